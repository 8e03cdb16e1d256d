package walker

import (
	"context"
	"strings"

	"github.com/minios-linux/mvtl/rpgdata"
)

// class handles one family of event commands.
type class struct {
	name string
	// extent returns the end (exclusive) of the span starting at i.
	extent func(list []*rpgdata.Instruction, i int) int
	// extract runs during the first pass. Dialogue only records what to
	// fill; every other class edits its instructions right away.
	extract func(p *page, ctx context.Context, start, end int) error
}

func classTable() map[int]*class {
	dialogue := &class{name: "dialogue", extent: dialogueRun, extract: (*page).dialogue}
	script := &class{name: "script", extent: single, extract: (*page).script}
	return map[int]*class{
		CodeText:          dialogue,
		CodeScrollText:    dialogue,
		CodeShowText:      {name: "name", extent: single, extract: (*page).name},
		CodeShowChoices:   {name: "choices", extent: single, extract: (*page).choices},
		CodeComment:       {name: "comment", extent: single, extract: (*page).comment},
		CodeCommentBody:   {name: "comment body", extent: single, extract: (*page).commentBody},
		CodeConditional:   {name: "conditional", extent: single, extract: (*page).conditional},
		CodeControlVars:   {name: "variable", extent: single, extract: (*page).variable},
		CodeActorName:     {name: "actor name", extent: single, extract: (*page).actorName},
		CodeActorNickname: {name: "actor nickname", extent: single, extract: (*page).actorNickname},
		CodeScript:        script,
		CodeScriptBody:    script,
		CodePluginCommand: {name: "plugin command", extent: pluginRun, extract: (*page).plugin},
		CodePluginMZ:      {name: "plugin text", extent: single, extract: (*page).pluginText},
		CodePluginMZBody:  {name: "plugin text body", extent: single, extract: (*page).pluginBody},
	}
}

func single(_ []*rpgdata.Instruction, i int) int { return i + 1 }

// dialogueRun covers consecutive show-text and scrolling-text lines, in
// any mix of the two.
func dialogueRun(list []*rpgdata.Instruction, i int) int {
	j := i + 1
	for j < len(list) && (list[j].Code == CodeText || list[j].Code == CodeScrollText) {
		j++
	}
	return j
}

// pluginRun covers consecutive plugin commands of a grouped kind.
func pluginRun(list []*rpgdata.Instruction, i int) int {
	s, _ := list[i].Str(0)
	g := groupedCommandOf(s)
	if g == nil {
		return i + 1
	}
	j := i + 1
	for j < len(list) && list[j].Code == CodePluginCommand {
		next, _ := list[j].Str(0)
		if !strings.Contains(next, g.marker) {
			break
		}
		j++
	}
	return j
}

// setText writes the first parameter, adding it when the list is empty.
func setText(in *rpgdata.Instruction, s string) {
	if len(in.Parameters) == 0 {
		in.Parameters = []any{s}
		return
	}
	in.Parameters[0] = s
}
