package glob

import "testing"

func TestMatchStarWithinSegment(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"*.txt", "a.txt", true},
		{"*.txt", "dir/a.txt", false},
		{"dir/*.txt", "dir/a.txt", true},
		{"**/*.txt", "a/b/c.txt", true},
		{"**", "a/b/c.txt", true},
		{"a?.txt", "ab.txt", true},
		{"a?.txt", "a/.txt", false},
		{"[abc].txt", "a.txt", true},
		{"[abc].txt", "d.txt", false},
		{"*.{jpg,png}", "photo.png", true},
		{"*.{jpg,png}", "photo.gif", false},
		{"node_modules/**", "node_modules/pkg/index.js", true},
	}

	for _, c := range cases {
		got := Match(c.pattern, c.path)
		if got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}
