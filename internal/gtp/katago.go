package gtp

import "strings"

const DefaultRank = "5k"

// KataGoOptions configures a KataGo human-SL engine.
type KataGoOptions struct {
	ConfigPath     string
	ModelPath      string
	HumanModelPath string
	Rank           string
}

// KataGoArgs builds the argument list for "katago gtp" with the human
// profile pinned to Rank (for example "5k", "1d").
func KataGoArgs(opt KataGoOptions) []string {
	rank := strings.TrimSpace(opt.Rank)
	if rank == "" {
		rank = DefaultRank
	}
	args := []string{"gtp", "-config", opt.ConfigPath, "-model", opt.ModelPath}
	if opt.HumanModelPath != "" {
		args = append(args, "-human-model", opt.HumanModelPath)
	}
	return append(args, "-override-config", "humanSLProfile=rank_"+rank)
}
