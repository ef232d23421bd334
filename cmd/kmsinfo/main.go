//go:build linux

// kmsinfo opens KMS devices and prints their driver, capabilities and
// display topology.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/opalwm/opal/internal/kms"
	_ "github.com/opalwm/opal/internal/kms/backends"
)

var useColor = term.IsTerminal(int(os.Stdout.Fd()))

func styled(style ansi.Style, s string) string {
	if !useColor {
		return s
	}
	return style.Styled(s)
}

func heading(s string) string {
	return styled(ansi.Style{}.Bold(), s)
}

func dim(s string) string {
	return styled(ansi.Style{}.Faint(), s)
}

func statusColor(status kms.ConnectorStatus) string {
	switch status {
	case kms.ConnectorStatusConnected:
		return styled(ansi.Style{}.ForegroundColor(ansi.Green), status.String())
	case kms.ConnectorStatusDisconnected:
		return styled(ansi.Style{}.Faint(), status.String())
	default:
		return styled(ansi.Style{}.ForegroundColor(ansi.Yellow), status.String())
	}
}

func printDevice(device *kms.Device) {
	fmt.Printf("%s %s\n", heading(device.Path()), dim(device.DriverDescription()))
	fmt.Printf("  driver: %s\n", device.DriverName())

	if w, h, ok := device.CursorSize(); ok {
		fmt.Printf("  cursor: %dx%d\n", w, h)
	}
	fmt.Printf("  shadow buffer preferred: %v\n", device.PrefersShadowBuffer())
	fmt.Printf("  monotonic clock: %v\n", device.UsesMonotonicClock())
	fmt.Printf("  addfb2 modifiers: %v\n", device.Flags()&kms.DeviceFlagHasAddFB2 != 0)

	fmt.Printf("  %s\n", heading("CRTCs"))
	for _, crtc := range device.Crtcs() {
		primary := device.PrimaryPlaneFor(crtc)
		cursor := device.CursorPlaneFor(crtc)
		fmt.Printf("    %d (index %d, primary plane %s, cursor plane %s)\n",
			crtc.ID(), crtc.Index(), planeRef(primary), planeRef(cursor))
	}

	fmt.Printf("  %s\n", heading("Connectors"))
	for _, connector := range device.Connectors() {
		fmt.Printf("    %s (%d): %s, %d modes\n",
			connector.Name(), connector.ID(),
			statusColor(connector.Status()), len(connector.Modes()))
		for _, mode := range connector.Modes() {
			fmt.Printf("      %s\n", dim(mode.String()))
		}
	}

	fmt.Printf("  %s\n", heading("Planes"))
	for _, plane := range device.Planes() {
		fake := ""
		if plane.Fake() {
			fake = dim(" (fake)")
		}
		fmt.Printf("    %d: %s, CRTC mask %#x%s\n",
			plane.ID(), plane.Type(), plane.PossibleCrtcs(), fake)
	}
}

func planeRef(plane *kms.Plane) string {
	if plane == nil {
		return "none"
	}
	return fmt.Sprintf("%d", plane.ID())
}

func run() error {
	config := flag.String("config", "", "path to KMS options YAML")
	noModeset := flag.Bool("no-modeset", false, "open devices without mode setting")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	opts := &kms.Options{}
	if *config != "" {
		var err error
		opts, err = kms.LoadOptions(*config)
		if err != nil {
			return err
		}
	}

	paths := flag.Args()
	if len(paths) == 0 {
		var err error
		paths, err = filepath.Glob("/dev/dri/card*")
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no KMS devices found under /dev/dri")
		}
	}

	var flags kms.DeviceFlag
	if *noModeset {
		flags |= kms.DeviceFlagNoModeSetting
	}

	root := kms.New(opts)
	defer root.Stop()

	var failed bool
	for _, path := range paths {
		device, err := root.CreateDevice(path, flags)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kmsinfo: %v\n", err)
			failed = true
			continue
		}
		printDevice(device)
	}

	if failed {
		return fmt.Errorf("some devices could not be opened")
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kmsinfo: %v\n", err)
		os.Exit(1)
	}
}
