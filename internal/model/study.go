package model

// AgentFields lists the seven categorical agent-characteristic fields voted on
// during consensus, in canonical order.
var AgentFields = []string{
	"oversight_level",
	"architecture",
	"agency_level",
	"role",
	"modality",
	"technology",
	"adaptivity",
}

// StudyInfo holds study-level fields produced by the study-info extraction phase.
type StudyInfo struct {
	Title           string `json:"title,omitempty"`
	SourceFile      string `json:"source_file,omitempty"`
	DesignType      string `json:"design_type,omitempty"`
	NTreatment      *int   `json:"n_treatment,omitempty"`
	NControl        *int   `json:"n_control,omitempty"`
	SampleSizeTotal *int   `json:"sample_size_total,omitempty"`
	OutcomeType     string `json:"outcome_type,omitempty"`
	LearningDomain  string `json:"learning_domain,omitempty"`
	Country         string `json:"country,omitempty"`
	EducationLevel  string `json:"education_level,omitempty"`
	YearPublished   *int   `json:"year_published,omitempty"`
}

// StudyData is the merged extraction output for one study. It is the input to
// consensus building and is persisted unchanged as original_data.
type StudyData struct {
	StudyID              string           `json:"study_id"`
	StudyInfo            StudyInfo        `json:"study_info"`
	EffectSizes          []map[string]any `json:"effect_sizes,omitempty"`
	AgentCharacteristics map[string]any   `json:"agent_characteristics,omitempty"`
}
