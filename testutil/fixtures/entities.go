package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

// Preferences is stored as JSON.
type Preferences struct {
	Language      string
	Notifications map[string]bool
}

// Reader is a registered library reader.
type Reader struct {
	ID           int64
	CardID       uuid.UUID `orm:"unique"`
	Name         string
	Email        *string
	Active       bool
	Preferences  Preferences `orm:"json"`
	Tags         []string    `orm:"json"`
	RegisteredAt time.Time
}

// BookCopy is one physical copy of a book. Reader is set while the copy is lent out.
type BookCopy struct {
	ID              int64
	BookID          uuid.UUID `orm:"unique"`
	ISBN            string
	Title           string
	Authors         string
	PublicationYear int
	Price           float64
	RemovedAt       *time.Time
	Reader          orm.Ref[Reader] `orm:"many_to_one;nullable"`
}

// Lending records that a book copy was lent to a reader.
type Lending struct {
	ID       int64
	BookCopy orm.Ref[BookCopy] `orm:"many_to_one"`
	Reader   orm.Ref[Reader]   `orm:"many_to_one"`
	LentAt   time.Time
	Note     string `orm:"-"`
}

// Entities returns the fixture entity types, registering Lending discovers the others.
func Entities() []any {
	return []any{Reader{}, BookCopy{}, Lending{}}
}

// FixtureReader builds a transient reader.
func FixtureReader(name string, registeredAt time.Time) *Reader {
	return &Reader{
		CardID:       uuid.Must(uuid.NewV7()),
		Name:         name,
		Active:       true,
		Preferences:  Preferences{Language: "en", Notifications: map[string]bool{"email": true, "sms": false}},
		Tags:         []string{"fiction", "history"},
		RegisteredAt: registeredAt,
	}
}

// FixtureBookCopy builds a transient book copy that is not lent out.
func FixtureBookCopy(title string, publicationYear int) *BookCopy {
	return &BookCopy{
		BookID:          uuid.Must(uuid.NewV7()),
		ISBN:            "978-1-098-10013-1",
		Title:           title,
		Authors:         "Vlad Khononov",
		PublicationYear: publicationYear,
		Price:           39.99,
	}
}

// FixtureLending builds a transient lending of bookCopy to reader.
func FixtureLending(bookCopy *BookCopy, reader *Reader, lentAt time.Time) *Lending {
	return &Lending{
		BookCopy: orm.RefTo(bookCopy),
		Reader:   orm.RefTo(reader),
		LentAt:   lentAt,
	}
}
