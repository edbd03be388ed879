package model

// Category is one of the fixed top-level information groups of a school record.
type Category string

const (
	CategoryTuition      Category = "tuition"
	CategoryPrograms     Category = "programs"
	CategoryEnrollment   Category = "enrollment"
	CategoryEvents       Category = "events"
	CategoryScholarships Category = "scholarships"
	CategoryFacilities   Category = "facilities"
	CategoryFaculty      Category = "faculty"
	CategoryAchievements Category = "achievements"
	CategoryMarketing    Category = "marketing"
	CategoryTechnology   Category = "technology"
	CategoryStudentLife  Category = "student_life"
	CategoryContact      Category = "contact"
)

var categoryTitles = map[Category]string{
	CategoryTuition:      "Tuition",
	CategoryPrograms:     "Programs",
	CategoryEnrollment:   "Enrollment",
	CategoryEvents:       "Events",
	CategoryScholarships: "Scholarships",
	CategoryFacilities:   "Facilities",
	CategoryFaculty:      "Faculty",
	CategoryAchievements: "Achievements",
	CategoryMarketing:    "Marketing",
	CategoryTechnology:   "Technology",
	CategoryStudentLife:  "StudentLife",
	CategoryContact:      "Contact",
}

// Title returns the display name of the category.
func (c Category) Title() string {
	if t, ok := categoryTitles[c]; ok {
		return t
	}
	return string(c)
}

// FieldKind is the expected value shape of a field.
type FieldKind string

const (
	KindScalar FieldKind = "scalar"
	KindList   FieldKind = "list"
	KindMap    FieldKind = "map"
)

// Unit hints which comparison normalizer applies to a field's values.
type Unit string

const (
	UnitText     Unit = "text"
	UnitCurrency Unit = "currency"
	UnitDate     Unit = "date"
	UnitNumber   Unit = "number"
)

// FieldDef describes one field of a category.
type FieldDef struct {
	Name        string    `json:"name"`
	Kind        FieldKind `json:"kind"`
	Unit        Unit      `json:"unit"`
	Description string    `json:"description"`
}

// CategoryDef describes a category and its ordered fields.
type CategoryDef struct {
	Key    Category   `json:"key"`
	Fields []FieldDef `json:"fields"`

	byName map[string]int
}

// Field returns the field definition by name, or nil if the category does
// not define it.
func (c *CategoryDef) Field(name string) *FieldDef {
	i, ok := c.byName[name]
	if !ok {
		return nil
	}
	return &c.Fields[i]
}

// FieldNames returns the category's field names in schema order.
func (c *CategoryDef) FieldNames() []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// Schema is the closed set of categories every record must carry.
type Schema struct {
	Categories []CategoryDef

	byKey map[Category]int
}

// NewSchema builds a Schema with indexed lookups.
func NewSchema(categories []CategoryDef) *Schema {
	s := &Schema{
		Categories: categories,
		byKey:      make(map[Category]int, len(categories)),
	}
	for i := range s.Categories {
		c := &s.Categories[i]
		c.byName = make(map[string]int, len(c.Fields))
		for j, f := range c.Fields {
			c.byName[f.Name] = j
		}
		s.byKey[c.Key] = i
	}
	return s
}

// Category returns the category definition, or nil if unknown.
func (s *Schema) Category(key Category) *CategoryDef {
	i, ok := s.byKey[key]
	if !ok {
		return nil
	}
	return &s.Categories[i]
}

// Keys returns the category keys in schema order.
func (s *Schema) Keys() []Category {
	keys := make([]Category, len(s.Categories))
	for i, c := range s.Categories {
		keys[i] = c.Key
	}
	return keys
}

func scalar(name string, unit Unit, desc string) FieldDef {
	return FieldDef{Name: name, Kind: KindScalar, Unit: unit, Description: desc}
}

func list(name string, unit Unit, desc string) FieldDef {
	return FieldDef{Name: name, Kind: KindList, Unit: unit, Description: desc}
}

func mapping(name string, unit Unit, desc string) FieldDef {
	return FieldDef{Name: name, Kind: KindMap, Unit: unit, Description: desc}
}

var defaultSchema = NewSchema([]CategoryDef{
	{Key: CategoryTuition, Fields: []FieldDef{
		scalar("academic_year", UnitText, "school year the fees apply to, e.g. 2024-2025"),
		mapping("grade_level_costs", UnitCurrency, "grade level or program to annual tuition amount with currency"),
		list("payment_deadlines", UnitDate, "payment due dates, one entry per deadline"),
		list("additional_fees", UnitCurrency, "other fees as 'name: amount'"),
		list("payment_plans", UnitText, "installment or payment scheme options"),
	}},
	{Key: CategoryPrograms, Fields: []FieldDef{
		list("offered_programs", UnitText, "academic programs, strands or courses offered"),
		list("grade_levels", UnitText, "grade levels served"),
		scalar("curriculum", UnitText, "curriculum framework, e.g. DepEd K-12, IB, Cambridge"),
		list("specializations", UnitText, "special tracks or focus areas"),
	}},
	{Key: CategoryEnrollment, Fields: []FieldDef{
		list("requirements", UnitText, "admission requirements"),
		list("documents", UnitText, "documents to submit"),
		list("process_steps", UnitText, "enrollment process steps in order"),
		scalar("application_period", UnitDate, "when applications open or close"),
	}},
	{Key: CategoryEvents, Fields: []FieldDef{
		list("upcoming_events", UnitText, "announced events as 'name (date)'"),
		list("annual_traditions", UnitText, "recurring school events"),
	}},
	{Key: CategoryScholarships, Fields: []FieldDef{
		list("available_scholarships", UnitText, "scholarship or grant names"),
		list("eligibility", UnitText, "eligibility criteria"),
		list("discounts", UnitText, "sibling, early-bird or other discounts"),
	}},
	{Key: CategoryFacilities, Fields: []FieldDef{
		list("campus_facilities", UnitText, "facilities such as labs, libraries, gyms"),
		list("special_features", UnitText, "notable facility features"),
		list("campus_locations", UnitText, "campus names or locations"),
	}},
	{Key: CategoryFaculty, Fields: []FieldDef{
		list("departments", UnitText, "academic departments"),
		scalar("staff_count", UnitNumber, "number of teachers or staff"),
		scalar("qualifications", UnitText, "summary of faculty qualifications"),
		list("notable_members", UnitText, "notable faculty as 'name, position'"),
	}},
	{Key: CategoryAchievements, Fields: []FieldDef{
		list("awards", UnitText, "awards and recognitions with year"),
		list("accreditations", UnitText, "accrediting bodies and levels"),
		list("rankings", UnitText, "published rankings"),
	}},
	{Key: CategoryMarketing, Fields: []FieldDef{
		list("taglines", UnitText, "slogans and taglines"),
		list("value_propositions", UnitText, "claimed differentiators"),
		list("key_messaging", UnitText, "recurring marketing messages"),
		scalar("content_strategy", UnitText, "overall tone and focus of site content"),
	}},
	{Key: CategoryTechnology, Fields: []FieldDef{
		scalar("technology_infrastructure", UnitText, "computing and network infrastructure"),
		list("digital_platforms", UnitText, "student or parent portals and apps"),
		scalar("learning_management_system", UnitText, "LMS in use"),
		list("tech_initiatives", UnitText, "technology programs and initiatives"),
	}},
	{Key: CategoryStudentLife, Fields: []FieldDef{
		list("clubs_organizations", UnitText, "clubs and student organizations"),
		list("activities", UnitText, "extracurricular activities"),
		list("testimonials", UnitText, "quotes as 'quote - source'"),
		list("partnerships", UnitText, "partner institutions and the nature of the partnership"),
		scalar("campus_life", UnitText, "description of campus life"),
	}},
	{Key: CategoryContact, Fields: []FieldDef{
		scalar("address", UnitText, "main campus address"),
		list("phone_numbers", UnitText, "phone numbers"),
		scalar("email", UnitText, "contact email"),
		scalar("website", UnitText, "official website URL"),
		mapping("social_media", UnitText, "platform to profile URL"),
	}},
})

// DefaultSchema returns the fixed twelve-category school schema.
func DefaultSchema() *Schema {
	return defaultSchema
}
