package vanguard

import (
	"strings"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

const (
	heuristicModelID       = "heuristic-engine"
	heuristicPromptVersion = "heuristic-1.0"
)

// HeuristicAnalyze is the fallback triage path: a rule table over
// (error_type, message substring). It never calls out and always
// produces a verdict, so triage stays functional when the LLM path is
// dark. liveHosts are the known live-data hosts; a connection failure
// naming one of them is recognized as an upstream feed outage.
func HeuristicAnalyze(inc model.Incident, liveHosts []string) model.IncidentAnalysis {
	a := model.IncidentAnalysis{
		ModelID:       heuristicModelID,
		PromptVersion: heuristicPromptVersion,
	}
	msg := strings.ToLower(inc.ErrorMessage)

	switch {
	case inc.ErrorType == "KeyError":
		a.RootCause = "schema drift: a document or payload is missing an expected field"
		a.RecommendedFix = []string{
			"diff the failing document against the expected schema",
			"add a guarded lookup with a default for the missing field",
			"backfill existing documents if the field is required",
		}
		a.Confidence = 55
	case inc.ErrorType == "FailedPrecondition" && strings.Contains(msg, "index"):
		a.RootCause = "query requires a composite index that does not exist"
		a.RecommendedFix = []string{
			"create the composite index named in the error message",
			"wait for the index build to finish before retrying",
		}
		a.Confidence = 75
	case inc.ErrorType == "DeadlineExceeded" || strings.Contains(msg, "timeout"):
		a.RootCause = "upstream call exceeded its deadline"
		a.RecommendedFix = []string{
			"check upstream latency and raise the per-call budget if it moved",
			"serve the cached snapshot while the upstream is slow",
		}
		a.Confidence = 65
	case inc.ErrorType == "ImportError" || inc.ErrorType == "ModuleNotFoundError":
		a.RootCause = "a dependency is missing from the deployed build"
		a.RecommendedFix = []string{
			"verify the build manifest includes the module",
			"redeploy from a clean build",
		}
		a.Confidence = 80
	case inc.ErrorType == "PermissionDenied":
		a.RootCause = "service identity lacks a required permission"
		a.RecommendedFix = []string{
			"compare the service account's roles against the resource policy",
			"grant the missing role and retry",
		}
		a.Confidence = 70
	case inc.ErrorType == "MemoryError":
		a.RootCause = "allocation pressure exhausted available memory"
		a.RecommendedFix = []string{
			"bound the working set of the failing operation",
			"stream instead of materializing the full payload",
		}
		a.Confidence = 70
	case liveHostFailure(inc, liveHosts, msg):
		a.RootCause = "live-data feed unreachable: " + matchedLiveHost(liveHosts, msg)
		a.RecommendedFix = []string{
			"confirm the feed outage from a second vantage point",
			"let the router serve cached snapshots until the feed recovers",
		}
		a.Confidence = 60
	default:
		a.RootCause = "no heuristic pattern matched"
		a.RecommendedFix = []string{"escalate to manual triage"}
		a.Confidence = 30
	}

	a.Impact = impactFor(inc.Severity, inc.OccurrenceCount)
	return a
}

func liveHostFailure(inc model.Incident, liveHosts []string, msg string) bool {
	if !isDependencyFailure(inc.ErrorType, inc.ErrorMessage) {
		return false
	}
	return matchedLiveHost(liveHosts, msg) != ""
}

func matchedLiveHost(liveHosts []string, msg string) string {
	for _, h := range liveHosts {
		if h != "" && strings.Contains(msg, strings.ToLower(h)) {
			return h
		}
	}
	return ""
}

// impactFor scales impact with severity and recurrence.
func impactFor(sev model.Severity, count int64) string {
	switch {
	case sev == model.SeverityRed && count >= 15:
		return "high"
	case sev == model.SeverityRed:
		return "medium"
	case sev == model.SeverityAmber && count >= 15:
		return "medium"
	default:
		return "low"
	}
}
