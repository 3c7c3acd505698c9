package models

import "github.com/dmitrijs2005/gophnotes/internal/schema"

type Task struct {
	Meta
	Title     string `json:"title"`
	Status    string `json:"status,omitempty"`
	DueDate   string `json:"due_date,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (Task) TableName() string { return schema.Tasks }

type Page struct {
	Meta
	Title      string `json:"title"`
	Content    string `json:"content,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
	IsFavorite bool   `json:"is_favorite,omitempty"`
	Icon       string `json:"icon,omitempty"`
}

func (Page) TableName() string { return schema.Pages }

type Course struct {
	Meta
	Title    string `json:"title"`
	Provider string `json:"provider,omitempty"`
	Status   string `json:"status,omitempty"`
	Progress int    `json:"progress,omitempty"`
	URL      string `json:"url,omitempty"`
}

func (Course) TableName() string { return schema.Courses }

type Habit struct {
	Meta
	Name      string `json:"name"`
	Frequency string `json:"frequency,omitempty"`
	Streak    int    `json:"streak,omitempty"`
	LastDone  string `json:"last_done,omitempty"`
}

func (Habit) TableName() string { return schema.Habits }

type Project struct {
	Meta
	Name        string `json:"name"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

func (Project) TableName() string { return schema.Projects }

type Resource struct {
	Meta
	Title string `json:"title"`
	Kind  string `json:"kind,omitempty"`
	URL   string `json:"url,omitempty"`
	Notes string `json:"notes,omitempty"`
}

func (Resource) TableName() string { return schema.Resources }

type GrowthRoadmap struct {
	Meta
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
	Goal   string `json:"goal,omitempty"`
}

func (GrowthRoadmap) TableName() string { return schema.GrowthRoadmaps }

type GrowthSkill struct {
	Meta
	RoadmapID string `json:"roadmap_id,omitempty"`
	Name      string `json:"name"`
	Level     int    `json:"level,omitempty"`
}

func (GrowthSkill) TableName() string { return schema.GrowthSkills }

type GrowthRetro struct {
	Meta
	Period    string `json:"period"`
	WentWell  string `json:"went_well,omitempty"`
	ToImprove string `json:"to_improve,omitempty"`
	Actions   string `json:"actions,omitempty"`
}

func (GrowthRetro) TableName() string { return schema.GrowthRetros }

type UserSettings struct {
	Meta
	Theme     string `json:"theme,omitempty"`
	Locale    string `json:"locale,omitempty"`
	WeekStart string `json:"week_start,omitempty"`
}

func (UserSettings) TableName() string { return schema.UserSettings }
