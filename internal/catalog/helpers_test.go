package catalog

import (
	"github.com/occi-cad/occi-server/internal/param"
	"github.com/occi-cad/occi-server/internal/script"
)

func newTestScript() *script.Script {
	return &script.Script{
		Org:        "acme",
		Name:       "widget",
		Version:    "1.0.0",
		EngineTag:  script.EngineCadQuery,
		Code:       "# widget code",
		ParamOrder: []string{"size"},
		Params: map[string]param.Descriptor{
			"size": {Kind: param.KindNumber, Start: 0, End: 10, Step: 1, Default: 5.0, Iterable: true},
		},
		Metadata: script.Metadata{Title: "Widget", Published: true},
	}
}
