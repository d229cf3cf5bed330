/*
roles.go - The closed set of reviewing roles

PURPOSE:
  Role names shared by both case types. The engine never interprets these
  strings; the Definition role tables in atrocity/ and marriage/ give them
  meaning. Keeping the constants here prevents the two case types from
  drifting apart on spelling, which the source system suffered from.
*/
package workflow

const (
	// RoleCitizen files marriage-incentive cases.
	RoleCitizen Role = "Citizen"

	// RoleInvestigationOfficer files atrocity-relief cases from a police
	// station and is scoped to that station.
	RoleInvestigationOfficer Role = "Investigation Officer"

	// RoleTribalOfficer is the first reviewer; sets the approved total.
	RoleTribalOfficer Role = "Tribal Officer"

	// RoleDistrictCollector covers the DM/SJO seat at district level.
	RoleDistrictCollector Role = "District Collector/DM/SJO"

	// RoleStateNodalOfficer gives the final pre-disbursement approval.
	RoleStateNodalOfficer Role = "State Nodal Officer"

	// RolePFMSOfficer releases tranches; authority limited to fund stages.
	RolePFMSOfficer Role = "PFMS Officer"
)
