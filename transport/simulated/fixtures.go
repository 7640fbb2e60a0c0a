package simulated

import (
	"time"

	"github.com/panyam/haikuplus/model"
)

// ImageHost is the host fixture photo URLs point at. FetchImage serves any
// URL on it from the simulated server.
const ImageHost = "simulated.haikuplus.local"

// Fixtures is the data set a simulated server starts from.
type Fixtures struct {
	Users   []*model.User
	Haikus  []*model.Haiku
	Friends map[string][]string // user id -> ids of the users they follow
}

func fixtureUser(id, externalID, name string, updated time.Time) *model.User {
	return &model.User{
		Object:      model.Object{Identifier: id},
		ExternalID:  externalID,
		DisplayName: name,
		PhotoURL:    "https://" + ImageHost + "/images/" + id + ".png",
		ProfileURL:  "https://plus.google.com/" + externalID,
		LastUpdated: updated,
	}
}

func fixtureHaiku(id string, author *model.User, title string, lines [3]string, votes int, created time.Time) *model.Haiku {
	return &model.Haiku{
		Object:                 model.Object{Identifier: id},
		Author:                 author,
		Title:                  title,
		LineOne:                lines[0],
		LineTwo:                lines[1],
		LineThree:              lines[2],
		ContentURL:             "https://" + ImageHost + "/haikus/" + id,
		ContentDeepLinkID:      "/haikus/" + id,
		CallToActionURL:        "https://" + ImageHost + "/haikus/" + id + "?action=vote",
		CallToActionDeepLinkID: "/haikus/" + id + "?action=vote",
		Votes:                  votes,
		CreationTime:           created,
	}
}

// DefaultFixtures returns a small deterministic data set: three users, where
// the first follows the second, and one haiku by each.
func DefaultFixtures() *Fixtures {
	base := time.Date(2014, time.January, 20, 10, 30, 0, 0, time.UTC)

	basho := fixtureUser("u1", "100000000000000000001", "Matsuo Basho", base)
	buson := fixtureUser("u2", "100000000000000000002", "Yosa Buson", base.Add(time.Hour))
	issa := fixtureUser("u3", "100000000000000000003", "Kobayashi Issa", base.Add(2*time.Hour))

	return &Fixtures{
		Users: []*model.User{basho, buson, issa},
		Haikus: []*model.Haiku{
			fixtureHaiku("h1", buson, "Spring Rain",
				[3]string{"spring rain", "the doll's bamboo blinds", "are rolled up"},
				3, base.Add(72*time.Hour)),
			fixtureHaiku("h2", issa, "Snail",
				[3]string{"o snail", "climb Mount Fuji", "but slowly, slowly"},
				5, base.Add(48*time.Hour)),
			fixtureHaiku("h3", basho, "Old Pond",
				[3]string{"an old silent pond", "a frog jumps into the pond", "splash! silence again"},
				8, base.Add(24*time.Hour)),
		},
		Friends: map[string][]string{
			"u1": {"u2"},
		},
	}
}

// clone copies fixtures so servers never share mutable entities.
func (f *Fixtures) clone() *Fixtures {
	out := &Fixtures{Friends: make(map[string][]string, len(f.Friends))}
	users := make(map[string]*model.User, len(f.Users))
	for _, u := range f.Users {
		cp := *u
		users[u.Identifier] = &cp
		out.Users = append(out.Users, &cp)
	}
	for _, h := range f.Haikus {
		cp := *h
		if h.Author != nil {
			if u, ok := users[h.Author.Identifier]; ok {
				cp.Author = u
			} else {
				a := *h.Author
				cp.Author = &a
			}
		}
		out.Haikus = append(out.Haikus, &cp)
	}
	for k, v := range f.Friends {
		out.Friends[k] = append([]string(nil), v...)
	}
	return out
}
