package notes

// UncategorizedLabel annotates notes whose category id does not resolve to a
// stored category. Such notes are not an error condition.
const UncategorizedLabel = "Uncategorized"

// Default categories seeded when the category table is first created.
var defaultCategoryNames = []string{"General", "Work", "Personal"}

// Category groups notes. The numeric id is assigned by the local store on first
// insert and is stable for the lifetime of the record.
type Category struct {
	ID   int64  `gorm:"column:category_id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "categories"
}

// Note is the canonical note record. The local numeric id (0 = unsaved) is
// assigned on first insert and never changes afterwards. Latitude/longitude and
// the image path were added after initial deployment; they are nullable or
// defaulted so rows written before the columns existed still decode.
type Note struct {
	ID               int64    `gorm:"column:note_id;primaryKey;autoIncrement"`
	Title            string   `gorm:"column:title;size:190;not null"`
	Content          string   `gorm:"column:content;type:text;not null;default:''"`
	CreatedAtSeconds int64    `gorm:"column:created_at_s;not null"`
	CategoryID       int64    `gorm:"column:category_id;not null;default:0;index"`
	Latitude         *float64 `gorm:"column:latitude"`
	Longitude        *float64 `gorm:"column:longitude"`
	ImagePath        string   `gorm:"column:image_path;size:512;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// NoteWithCategory is a note annotated with its category's display name for the
// primary list view.
type NoteWithCategory struct {
	Note
	CategoryName string
}
