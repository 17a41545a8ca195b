package gtp

import (
	"strings"
	"testing"
)

func TestKataGoArgs(t *testing.T) {
	cases := []struct {
		name string
		opt  KataGoOptions
		want string
	}{
		{
			name: "default rank",
			opt:  KataGoOptions{ConfigPath: "models/human.cfg", ModelPath: "models/model.bin.gz"},
			want: "gtp -config models/human.cfg -model models/model.bin.gz -override-config humanSLProfile=rank_5k",
		},
		{
			name: "human model and dan rank",
			opt: KataGoOptions{
				ConfigPath:     "c.cfg",
				ModelPath:      "m.bin.gz",
				HumanModelPath: "h.bin.gz",
				Rank:           "3d",
			},
			want: "gtp -config c.cfg -model m.bin.gz -human-model h.bin.gz -override-config humanSLProfile=rank_3d",
		},
	}
	for _, c := range cases {
		got := strings.Join(KataGoArgs(c.opt), " ")
		if got != c.want {
			t.Fatalf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}
