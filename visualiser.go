package profilesync

import (
	"io"
	"text/template"
)

// MermaidDiagram writes the lifecycle of a run as a mermaid state diagram.
func MermaidDiagram(w io.Writer, d MermaidDirection) error {
	if d == UnknownDirection {
		d = LeftToRightDirection
	}

	info := statusGraph().Info()
	mf := MermaidFormat{
		Direction: d,
	}

	for _, node := range info.StartingNodes {
		mf.StartingPoints = append(mf.StartingPoints, Status(node).String())
	}

	for _, tr := range info.Transitions {
		mf.Transitions = append(mf.Transitions, MermaidTransition{
			From:  Status(tr.From).String(),
			To:    Status(tr.To).String(),
			Label: transitionLabel(Status(tr.From), Status(tr.To)),
		})
	}

	for _, node := range info.TerminalNodes {
		mf.TerminalPoints = append(mf.TerminalPoints, Status(node).String())
	}

	return template.Must(template.New("").Parse("```"+mermaidTemplate+"```\n")).Execute(w, mf)
}

func transitionLabel(from, to Status) string {
	switch {
	case from == StatusPending:
		return "dispatch " + string(ActivityPersistProfile)
	case from == StatusPersisted:
		return "delay"
	case from == StatusAwaitingSync:
		return "dispatch " + string(ActivitySyncExternal)
	case to == StatusFailed:
		return "non-retriable or attempts exhausted"
	default:
		return ""
	}
}

type MermaidFormat struct {
	Direction      MermaidDirection
	StartingPoints []string
	TerminalPoints []string
	Transitions    []MermaidTransition
}

type MermaidDirection string

const (
	UnknownDirection     MermaidDirection = ""
	TopToBottomDirection MermaidDirection = "TB"
	LeftToRightDirection MermaidDirection = "LR"
	RightToLeftDirection MermaidDirection = "RL"
	BottomToTopDirection MermaidDirection = "BT"
)

type MermaidTransition struct {
	From  string
	To    string
	Label string
}

var mermaidTemplate = `mermaid
stateDiagram-v2
	direction {{.Direction}}
	{{range $key, $value := .StartingPoints }}
	[*]-->{{$value}}
	{{- end }}
	{{range $key, $value := .Transitions }}
	{{$value.From}}-->{{$value.To}}{{if $value.Label}}: {{$value.Label}}{{end}}
	{{- end }}
	{{range $key, $value := .TerminalPoints }}
	{{$value}}-->[*]
	{{- end }}
`
