package agent

import (
	"context"

	"github.com/0x6d61/labvault/internal/tools"
)

// MergeToolResult folds a tool result into the session's lab context. Only
// the declared fields (open ports, services) are read; everything else in
// the payload is opaque to the persistence layer. Results whose status is not
// success are never merged.
func (r *Recorder) MergeToolResult(ctx context.Context, res *tools.Result) error {
	if res == nil || res.Status != tools.StatusSuccess {
		return nil
	}

	if len(res.OpenPorts) > 0 {
		if err := r.AddPorts(ctx, res.OpenPorts); err != nil {
			return err
		}
	}

	for _, svc := range res.Services {
		if err := r.AddService(ctx, svc.Port, svc.Name, svc.Version); err != nil {
			return err
		}
	}

	return nil
}
