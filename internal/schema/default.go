package schema

// Table names of the default registry.
const (
	Tasks          = "tasks"
	Pages          = "pages"
	Courses        = "courses"
	Habits         = "habits"
	Projects       = "projects"
	Resources      = "resources"
	GrowthRoadmaps = "growth_roadmaps"
	GrowthSkills   = "growth_skills"
	GrowthRetros   = "growth_retros"
	UserSettings   = "user_settings"
)

// DefaultTables lists the entity tables of the notes application.
func DefaultTables() []Table {
	settings := Entity(UserSettings)
	settings.SoftDelete = false

	return []Table{
		Entity(Tasks, "status", "due_date", "priority"),
		Entity(Pages, "parent_id", "is_favorite"),
		Entity(Courses, "status"),
		Entity(Habits, "frequency"),
		Entity(Projects, "status"),
		Entity(Resources, "kind"),
		Entity(GrowthRoadmaps, "status"),
		Entity(GrowthSkills, "roadmap_id", "level"),
		Entity(GrowthRetros, "period"),
		settings,
	}
}

// Default returns the registry of DefaultTables.
func Default() *Registry {
	r, err := NewRegistry(DefaultTables()...)
	if err != nil {
		panic(err)
	}
	return r
}
