package polls

import (
	"time"

	"github.com/computersciencehouse/quickpoll/database"
)

type OptionView struct {
	Id       string  `json:"id"`
	Text     string  `json:"text"`
	Votes    int     `json:"votes"`
	Percent  float64 `json:"percent"`
	Selected bool    `json:"selected"`
}

// View is a poll as shown to one viewer.
type View struct {
	Id         string       `json:"id"`
	Question   string       `json:"question"`
	Author     string       `json:"author"`
	CreatedAt  time.Time    `json:"createdAt"`
	Options    []OptionView `json:"options"`
	TotalVotes int          `json:"totalVotes"`
	ViewerVote string       `json:"viewerVote,omitempty"`
}

func (v View) HasVoted() bool {
	return v.ViewerVote != ""
}

// Project turns a stored poll into its view. Totals and percentages are
// derived from the per-option counts every time; nothing is carried over.
func Project(rec database.PollRecord) View {
	view := View{
		Id:         rec.Id,
		Question:   rec.Question,
		Author:     rec.AuthorName,
		CreatedAt:  rec.CreatedAt,
		ViewerVote: rec.ViewerVote,
		Options:    make([]OptionView, 0, len(rec.Options)),
	}
	if view.Author == "" {
		view.Author = "Anonymous"
	}

	for _, o := range rec.Options {
		view.TotalVotes += o.Count
	}
	for _, o := range rec.Options {
		view.Options = append(view.Options, OptionView{
			Id:       o.Id,
			Text:     o.Text,
			Votes:    o.Count,
			Percent:  Percent(o.Count, view.TotalVotes),
			Selected: o.Id == rec.ViewerVote,
		})
	}
	return view
}

// Percent is count's share of total in percent, 0 when there are no votes.
func Percent(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}
