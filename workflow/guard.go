/*
guard.go - Jurisdiction guard

PURPOSE:
  Answers authorized(actor, case) for a given role table. Pure and
  side-effect free; evaluated fresh on every attempt. The result is never
  cached across requests because an actor's scope can change between calls
  (reassignment), and the actor itself comes only from the authenticator,
  never from request parameters.

MODEL:
  An actor's scope kind pins a prefix of the case's jurisdiction tuple:
    national    matches everything
    region      must match region
    sub_region  must match region + sub-region
    station     must match region + sub-region + station
    applicant   must be the case's original applicant
  A stage-scoped role (PFMS) must additionally find the case's current
  stage in its permitted stage set.
*/
package workflow

// Authorized reports whether the actor's verified scope covers the case.
// It answers only yes or no; callers translate no into ErrForbidden without
// revealing which component failed.
func Authorized(actor Actor, c *Case, def *Definition) bool {
	rs, ok := def.Spec(actor.Role)
	if !ok {
		return false
	}

	switch rs.Scope {
	case ScopeNational:
		// no geographic restriction
	case ScopeRegion:
		if actor.Jurisdiction.Region != c.Jurisdiction.Region {
			return false
		}
	case ScopeSubRegion:
		if actor.Jurisdiction.Region != c.Jurisdiction.Region ||
			actor.Jurisdiction.SubRegion != c.Jurisdiction.SubRegion {
			return false
		}
	case ScopeStation:
		if actor.Jurisdiction.Region != c.Jurisdiction.Region ||
			actor.Jurisdiction.SubRegion != c.Jurisdiction.SubRegion ||
			actor.Jurisdiction.Station != c.Jurisdiction.Station {
			return false
		}
	case ScopeApplicant:
		if actor.ID != c.ApplicantID {
			return false
		}
	default:
		return false
	}

	if rs.StageScoped && !rs.actsAt(c.Stage) {
		return false
	}
	return true
}
