//go:build linux

package backends

import (
	"time"

	"github.com/opalwm/opal/internal/kms"
	"github.com/opalwm/opal/internal/kms/drm"
)

func init() {
	kms.RegisterBackend(kms.BackendDummy, openDummy)
}

// dummyDevice opens the node for buffer allocation and leasing but performs
// no mode setting at all. Headless rendering paths still need plane handles
// to target, which are supplied through AddFakePlane.
type dummyDevice struct {
	base
}

func openDummy(path string, flags kms.DeviceFlag) (kms.ImplDevice, error) {
	node, err := drm.Open(path)
	if err != nil {
		return nil, err
	}

	d := &dummyDevice{}
	d.node = node
	d.probeVersion()
	d.probeCaps()
	d.fallbackModes = kms.DefaultFallbackModes()

	return d, nil
}

func (d *dummyDevice) UpdateStates(crtcID, connectorID uint32) kms.ChangeSet {
	return kms.ChangeNone
}

func (d *dummyDevice) ProcessUpdate(update *kms.Update, flags kms.UpdateFlag) (*kms.Feedback, error) {
	return &kms.Feedback{
		CompletedAt: time.Now(),
		TestOnly:    flags&kms.UpdateFlagTestOnly != 0,
	}, nil
}

func (d *dummyDevice) Disable() error {
	return nil
}
