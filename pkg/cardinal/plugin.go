package cardinal

import (
	"github.com/argus-labs/tick-counter/pkg/cardinal/worldstage"
	"github.com/rotisserie/eris"
)

// Plugin groups the registrations of a feature so it can be added to a world in one call.
//
// Example:
//
//	type RegenPlugin struct{}
//
//	func (RegenPlugin) Register(w *cardinal.World) error {
//	    cardinal.RegisterSystem(w, RegenSystem)
//	    return nil
//	}
type Plugin interface {
	Register(w *World) error
}

// RegisterPlugin adds a plugin to the world. Plugins can only be registered before the world is
// initialized.
func (w *World) RegisterPlugin(plugin Plugin) error {
	if stage := w.stage.Current(); stage != worldstage.Init {
		return eris.Errorf("plugin %T cannot be registered in stage %s", plugin, stage)
	}
	if err := plugin.Register(w); err != nil {
		return eris.Wrapf(err, "failed to register plugin %T", plugin)
	}
	return nil
}
