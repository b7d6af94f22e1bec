package actions

import (
	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/pipeline"
)

// EventWriter persists chat events; archive.Store and archive.BufferedWriter
// satisfy it.
type EventWriter interface {
	Write(core.ChatEvent) error
}

// Archiver writes every surviving event to the archive. Write errors
// propagate so the pipeline logs them; the message itself is unaffected.
type Archiver struct {
	writer EventWriter
}

func NewArchiver(writer EventWriter) *Archiver {
	return &Archiver{writer: writer}
}

func (a *Archiver) Name() string { return "archive" }

func (a *Archiver) Apply(ev *core.ChatEvent, meta pipeline.Metadata, actor pipeline.Actor) (pipeline.Metadata, error) {
	return nil, a.writer.Write(*ev)
}
