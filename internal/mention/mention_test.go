package mention

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

func TestExtractKnownUsersInOrder(t *testing.T) {
	dir := MapDirectory{"Alice": "u-alice", "Bob": "u-bob"}
	got := Extract("ping @Alice @alice @Bob", dir)
	want := []Mention{{UserID: "u-alice", Name: "Alice"}, {UserID: "u-bob", Name: "Bob"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Extract() = %+v, want %+v", got, want)
	}
}

func TestExtract(t *testing.T) {
	dir := MapDirectory{"Alice": "u-alice", "Bob": "u-bob", "Robert": "u-bob", "Dana_2": "u-dana"}
	cases := []struct {
		name string
		text string
		want []Mention
	}{
		{name: "no tokens", text: "plain text", want: nil},
		{name: "unknown dropped", text: "hi @Zed", want: []Mention{}},
		{name: "repeated token", text: "@Bob and @Bob again", want: []Mention{{UserID: "u-bob", Name: "Bob"}}},
		{name: "two names one user", text: "@Robert aka @Bob", want: []Mention{{UserID: "u-bob", Name: "Robert"}}},
		{name: "punctuation boundary", text: "thanks @Alice, see @Dana_2.", want: []Mention{{UserID: "u-alice", Name: "Alice"}, {UserID: "u-dana", Name: "Dana_2"}}},
		{name: "bare at sign", text: "email me @ noon", want: nil},
		{name: "token prefix is not a match", text: "@Alicea", want: []Mention{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Extract(tc.text, dir)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Extract(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
		})
	}
}

func TestNames(t *testing.T) {
	got := Names("@a @b @a @c_1!")
	want := []string{"a", "b", "c_1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

// Every extracted id is unique and is backed by a literal @token in the text.
func TestExtractProperties(t *testing.T) {
	names := []string{"Alice", "alice", "Bob", "Carol", "Ghost", "x_1"}
	dir := MapDirectory{"Alice": "u-alice", "Bob": "u-bob", "Carol": "u-carol", "x_1": "u-alice"}
	filler := []string{"hello", "@", ",", "!", "  ", "email@", "\n"}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var b strings.Builder
		for j := 0; j < rng.Intn(12); j++ {
			if rng.Intn(2) == 0 {
				b.WriteString("@" + names[rng.Intn(len(names))])
			} else {
				b.WriteString(filler[rng.Intn(len(filler))])
			}
			b.WriteString(" ")
		}
		text := b.String()

		seen := map[string]bool{}
		for _, m := range Extract(text, dir) {
			if seen[m.UserID] {
				t.Fatalf("duplicate user %s for %q", m.UserID, text)
			}
			seen[m.UserID] = true
			if !strings.Contains(text, "@"+m.Name) {
				t.Fatalf("mention %q not present in %q", m.Name, text)
			}
			if id, _ := dir.Lookup(m.Name); id != m.UserID {
				t.Fatalf("mention %q resolved to %s, directory says %s", m.Name, m.UserID, id)
			}
		}

		if !reflect.DeepEqual(Extract(text, dir), Extract(text, dir)) {
			t.Fatalf("Extract is not deterministic for %q", text)
		}
	}
}
