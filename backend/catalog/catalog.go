package catalog

// CustomID is the pseudo catalog id used by free-form activities that
// the user logs with their own name and point value.
const CustomID = "custom"

// Entry is one predefined activity template. Entries are immutable and
// statically defined; logged activities reference them by ID.
// A DailyCap or WeeklyCap of 0 means the entry is uncapped.
type Entry struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Points        int    `json:"points"`
	Difficulty    string `json:"difficulty"`
	IsDiminishing bool   `json:"is_diminishing"`
	DailyCap      int    `json:"daily_cap"`
	WeeklyCap     int    `json:"weekly_cap"`
}

var entries = []Entry{
	{ID: "deep-work", Name: "Deep work session", Category: "Work", Points: 25, Difficulty: "hard", IsDiminishing: true},
	{ID: "inbox-zero", Name: "Inbox zero", Category: "Work", Points: 8, Difficulty: "easy", DailyCap: 1},
	{ID: "study-session", Name: "Study session", Category: "Mind", Points: 18, Difficulty: "medium", IsDiminishing: true},
	{ID: "reading", Name: "Read 30 minutes", Category: "Mind", Points: 12, Difficulty: "easy", IsDiminishing: true},
	{ID: "language-practice", Name: "Language practice", Category: "Mind", Points: 10, Difficulty: "easy", IsDiminishing: true},
	{ID: "workout-hypertrophy", Name: "Hypertrophy workout", Category: "Health", Points: 30, Difficulty: "hard", DailyCap: 1, WeeklyCap: 4},
	{ID: "run", Name: "Go for a run", Category: "Health", Points: 20, Difficulty: "medium", DailyCap: 1, WeeklyCap: 5},
	{ID: "meal-prep", Name: "Meal prep", Category: "Health", Points: 10, Difficulty: "easy", DailyCap: 1},
	{ID: "early-rise", Name: "Up before seven", Category: "Discipline", Points: 10, Difficulty: "medium", DailyCap: 1},
	{ID: "tidy-up", Name: "Tidy the apartment", Category: "Home", Points: 6, Difficulty: "easy", IsDiminishing: true},
	{ID: "cook-dinner", Name: "Cook a proper dinner", Category: "Home", Points: 10, Difficulty: "easy", DailyCap: 1},
	{ID: "walk", Name: "Long walk outside", Category: "Recovery", Points: 8, Difficulty: "easy", DailyCap: 2},
	{ID: "stretching", Name: "Stretching session", Category: "Recovery", Points: 6, Difficulty: "easy", DailyCap: 2},
	{ID: "journaling", Name: "Evening journal", Category: "Recovery", Points: 8, Difficulty: "easy", DailyCap: 1},
	{ID: "digital-detox", Name: "Hour without screens", Category: "Recovery", Points: 10, Difficulty: "easy", DailyCap: 1},
}

// recoveryIDs is the fixed allow-list of activities that can protect a
// low-point day from counting against the streak.
var recoveryIDs = map[string]struct{}{
	"walk":          {},
	"stretching":    {},
	"journaling":    {},
	"digital-detox": {},
}

var byID = buildIndex()

func buildIndex() map[string]Entry {
	index := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		index[entry.ID] = entry
	}
	return index
}

// Lookup returns the catalog entry with the given id. The second return
// value is false if no such entry exists.
func Lookup(id string) (Entry, bool) {
	entry, ok := byID[id]
	return entry, ok
}

// Entries returns a copy of the full catalog in its defined order.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// IsRecovery reports whether the given catalog id belongs to the fixed
// recovery set.
func IsRecovery(id string) bool {
	_, ok := recoveryIDs[id]
	return ok
}

// RecoveryEntries returns the catalog entries of the recovery set, in
// catalog order.
func RecoveryEntries() []Entry {
	var out []Entry
	for _, entry := range entries {
		if IsRecovery(entry.ID) {
			out = append(out, entry)
		}
	}
	return out
}
