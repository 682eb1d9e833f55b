package constants

// StringSet builds a set map from a list of values.
func StringSet(values []string) map[string]struct{} {
	result := make(map[string]struct{}, len(values))
	for _, value := range values {
		result[value] = struct{}{}
	}
	return result
}

// MaxInstancesPerScope caps the number of connections a multi-instance scope may hold.
const MaxInstancesPerScope = 9

// ScopeGeneral names the global settings document.
const ScopeGeneral = "general"

// ApplicationScopes lists the downstream automation applications with their own
// configuration documents, in menu order.
var ApplicationScopes = []string{
	"sonarr",
	"radarr",
	"lidarr",
	"readarr",
	"whisparr",
	"eros",
	"prowlarr",
	"swaparr",
}

// ApplicationScopeSet is the lookup form of ApplicationScopes.
var ApplicationScopeSet = StringSet(ApplicationScopes)
