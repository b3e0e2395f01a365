package pipeline

import (
	"context"
	"errors"

	"github.com/BadgerOps/liveinstall/internal/debconf"
)

const keymapQuestion = "debian-installer/keymap"

// keyboardStage carries the chosen keymap into the target's debconf
// database before the keyboard component runs there.
func (in *Installer) keyboardStage(ctx context.Context) error {
	err := debconf.CopyQuestion(ctx, in.runner, in.db, in.Target(), keymapQuestion)
	switch {
	case errors.Is(err, debconf.ErrNotFound):
		in.logger.Debug("no keymap chosen")
	case err != nil:
		return &StageFailure{Stage: "keyboard", Err: err}
	}
	return in.runComponent(ctx, "keyboard", in.cfg.Components.Keyboard)
}
