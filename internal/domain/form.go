package domain

// PersonaFormData is the pre-validated multi-step form payload that enters
// the generation pipeline. The HTTP layer validates it with the struct tags
// below before the pipeline ever sees it.
type PersonaFormData struct {
	BusinessInfo   BusinessInfo   `json:"business_info" validate:"required"`
	TargetAudience TargetAudience `json:"target_audience" validate:"required"`
	ProductDetails ProductDetails `json:"product_details" validate:"required"`
	ResearchGoals  ResearchGoals  `json:"research_goals" validate:"required"`
}

// BusinessInfo describes the business commissioning the persona.
type BusinessInfo struct {
	BusinessName string `json:"business_name" validate:"required"`
	Industry     string `json:"industry" validate:"required"`
	BusinessType string `json:"business_type,omitempty"`
	CompanySize  string `json:"company_size,omitempty"`
	Website      string `json:"website,omitempty" validate:"omitempty,url"`
	Description  string `json:"description,omitempty"`
}

// TargetAudience captures what the business already knows about its audience.
type TargetAudience struct {
	AgeRange        string   `json:"age_range" validate:"required"`
	Gender          string   `json:"gender,omitempty" validate:"omitempty,oneof=male female any"`
	Location        string   `json:"location,omitempty"`
	IncomeLevel     string   `json:"income_level,omitempty"`
	EducationLevel  string   `json:"education_level,omitempty"`
	KnownInterests  []string `json:"known_interests,omitempty"`
	CurrentCustomer string   `json:"current_customer,omitempty"`
}

// ProductDetails describes the product or service the persona relates to.
type ProductDetails struct {
	ProductName      string   `json:"product_name" validate:"required"`
	ProductType      string   `json:"product_type,omitempty"`
	PriceRange       string   `json:"price_range,omitempty"`
	KeyFeatures      []string `json:"key_features,omitempty"`
	ValueProposition string   `json:"value_proposition,omitempty"`
	Competitors      []string `json:"competitors,omitempty"`
}

// ResearchGoals states what the caller wants the persona to inform.
type ResearchGoals struct {
	PrimaryGoal    string   `json:"primary_goal" validate:"required"`
	SecondaryGoals []string `json:"secondary_goals,omitempty"`
	KeyQuestions   []string `json:"key_questions,omitempty"`
	MarketingFocus string   `json:"marketing_focus,omitempty"`
}
