// Package probes provides the built-in probe registry.
package probes

import (
	"github.com/jandubois/omnicube-probe/internal/probe"
	"github.com/jandubois/omnicube-probe/internal/probes/backupstatus"
	"github.com/jandubois/omnicube-probe/internal/probes/policy"
)

// GetAllDescriptions returns descriptions of all built-in probes.
func GetAllDescriptions() []probe.Description {
	return []probe.Description{
		backupstatus.GetDescription(),
		policy.GetDescription(),
	}
}
