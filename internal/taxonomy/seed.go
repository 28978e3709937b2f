package taxonomy

// SkillSeed is one seeded skill under a seeded domain.
type SkillSeed struct {
	Slug  string
	Label string
}

// DomainSeed is one seeded taxonomy domain with its skills.
type DomainSeed struct {
	Slug   string
	Label  string
	Skills []SkillSeed
}

// seedDomains is the bundled taxonomy: 7 domains, 54 skills. Mirrors the
// reference implementation's bundled taxonomy_v1.json as an in-repo Go
// literal rather than an embedded data file.
var seedDomains = []DomainSeed{
	{
		Slug:  "code-generation",
		Label: "Code Generation",
		Skills: []SkillSeed{
			{"code-review", "Code Review"},
			{"bug-fixing", "Bug Fixing"},
			{"feature-implementation", "Feature Implementation"},
			{"refactoring", "Refactoring"},
			{"test-writing", "Test Writing"},
			{"api-design", "API Design"},
			{"performance-tuning", "Performance Tuning"},
			{"security-hardening", "Security Hardening"},
		},
	},
	{
		Slug:  "data-analysis",
		Label: "Data Analysis",
		Skills: []SkillSeed{
			{"statistical-modeling", "Statistical Modeling"},
			{"data-cleaning", "Data Cleaning"},
			{"visualization", "Visualization"},
			{"forecasting", "Forecasting"},
			{"anomaly-detection", "Anomaly Detection"},
			{"etl-pipeline", "ETL Pipeline"},
			{"query-optimization", "Query Optimization"},
			{"dataset-curation", "Dataset Curation"},
		},
	},
	{
		Slug:  "research",
		Label: "Research",
		Skills: []SkillSeed{
			{"literature-review", "Literature Review"},
			{"experiment-design", "Experiment Design"},
			{"hypothesis-testing", "Hypothesis Testing"},
			{"technical-writing", "Technical Writing"},
			{"peer-review", "Peer Review"},
			{"reproducibility-audit", "Reproducibility Audit"},
			{"survey-synthesis", "Survey Synthesis"},
		},
	},
	{
		Slug:  "operations",
		Label: "Operations",
		Skills: []SkillSeed{
			{"incident-response", "Incident Response"},
			{"deployment-automation", "Deployment Automation"},
			{"monitoring-setup", "Monitoring Setup"},
			{"capacity-planning", "Capacity Planning"},
			{"cost-optimization", "Cost Optimization"},
			{"on-call-triage", "On-call Triage"},
			{"runbook-authoring", "Runbook Authoring"},
			{"disaster-recovery", "Disaster Recovery"},
		},
	},
	{
		Slug:  "communication",
		Label: "Communication",
		Skills: []SkillSeed{
			{"status-reporting", "Status Reporting"},
			{"stakeholder-updates", "Stakeholder Updates"},
			{"documentation", "Documentation"},
			{"meeting-facilitation", "Meeting Facilitation"},
			{"negotiation", "Negotiation"},
			{"mentoring", "Mentoring"},
			{"conflict-resolution", "Conflict Resolution"},
		},
	},
	{
		Slug:  "creative",
		Label: "Creative",
		Skills: []SkillSeed{
			{"content-writing", "Content Writing"},
			{"visual-design", "Visual Design"},
			{"ux-research", "UX Research"},
			{"brand-strategy", "Brand Strategy"},
			{"storyboarding", "Storyboarding"},
			{"copy-editing", "Copy Editing"},
			{"audio-production", "Audio Production"},
			{"video-editing", "Video Editing"},
		},
	},
	{
		Slug:  "community-contribution",
		Label: "Community Contribution",
		Skills: []SkillSeed{
			{"issue-triage", "Issue Triage"},
			{"newcomer-onboarding", "Newcomer Onboarding"},
			{"event-organizing", "Event Organizing"},
			{"moderation", "Moderation"},
			{"translation", "Translation"},
			{"governance-participation", "Governance Participation"},
			{"fundraising", "Fundraising"},
			{"open-source-maintenance", "Open Source Maintenance"},
		},
	},
}
