// Package docker wraps the Docker engine client with plexup's label
// conventions and the small set of image/container operations the
// bootstrap pipeline needs.
package docker

// Label keys for plexup-managed resources.
const (
	// LabelPrefix is the prefix for all plexup labels.
	LabelPrefix = "dev.plexup."

	// LabelManaged marks a resource as managed by plexup.
	LabelManaged = LabelPrefix + "managed"

	// LabelDestination identifies the destination label passed at bootstrap.
	LabelDestination = LabelPrefix + "destination"

	// LabelClaimState records the claim state the container was started for.
	LabelClaimState = LabelPrefix + "claim"

	// ManagedLabelValue is the value for LabelManaged.
	ManagedLabelValue = "true"
)

// ManagedLabels returns the label set applied to every container plexup
// creates. Teardown and retry recovery only touch containers carrying
// LabelManaged, so a runner shared with other jobs is safe.
func ManagedLabels(destination string, claimState string) map[string]string {
	return map[string]string{
		LabelManaged:     ManagedLabelValue,
		LabelDestination: destination,
		LabelClaimState:  claimState,
	}
}
