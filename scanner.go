package gobalance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"
)

// FoundDevice is a device seen during discovery.
type FoundDevice struct {
	Name string
	ID   string // peripheral address, XX:XX:XX:XX:XX:XX
	RSSI int
	Path string // BlueZ object path, empty for devices not found through BlueZ
}

// ErrNoDevice is returned when discovery ends without a matching device.
var ErrNoDevice = errors.New("no matching device found")

// BTAdapter is the host adapter used for discovery.
var BTAdapter = bluetooth.DefaultAdapter

var (
	enableOnce sync.Once
	enableErr  error
)

// TryEnableAdapter enables the default adapter once per process.
func TryEnableAdapter() error {
	enableOnce.Do(func() {
		log.Debug().Msg("enabling Bluetooth adapter")
		enableErr = BTAdapter.Enable()
	})
	return enableErr
}

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"
)

// ScanStream runs a classic (BR/EDR) inquiry through BlueZ and streams every
// device whose name starts with one of the prefixes. Devices are reported
// once. The channel is closed when ctx is done.
//
// The board is a classic HID device, so discovery goes through BlueZ
// directly instead of the adapter's LE scanner.
func ScanStream(ctx context.Context, customPrefixes ...string) (<-chan FoundDevice, error) {
	prefixes := getPrefixes(customPrefixes...)
	if len(prefixes) == 0 {
		return nil, errors.New("scan: no implementations registered and no custom prefixes provided")
	}
	if err := TryEnableAdapter(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	adapters, objs, err := managedObjects(bus)
	if err != nil {
		return nil, err
	}

	sigCh := make(chan *dbus.Signal, 16)
	bus.Signal(sigCh)
	matches := []dbus.MatchOption{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded")}
	propMatches := []dbus.MatchOption{dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged")}
	if err := bus.AddMatchSignal(matches...); err != nil {
		bus.RemoveSignal(sigCh)
		return nil, fmt.Errorf("AddMatchSignal: %w", err)
	}
	if err := bus.AddMatchSignal(propMatches...); err != nil {
		_ = bus.RemoveMatchSignal(matches...)
		bus.RemoveSignal(sigCh)
		return nil, fmt.Errorf("AddMatchSignal: %w", err)
	}

	for _, ap := range adapters {
		if err := bus.Object(bluezService, ap).Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
			log.Warn().Err(err).Str("adapter", string(ap)).Msg("StartDiscovery failed")
		}
	}

	deviceChan := make(chan FoundDevice)

	go func() {
		defer close(deviceChan)
		defer func() {
			for _, ap := range adapters {
				_ = bus.Object(bluezService, ap).Call(adapterIface+".StopDiscovery", 0).Err
			}
			_ = bus.RemoveMatchSignal(propMatches...)
			_ = bus.RemoveMatchSignal(matches...)
			bus.RemoveSignal(sigCh)
		}()

		log.Info().Strs("prefixes", prefixes).Msg("starting Bluetooth inquiry")

		seen := make(map[string]bool)
		emit := func(dev FoundDevice) bool {
			if seen[dev.ID] || !matchesPrefix(dev.Name, prefixes) {
				return true
			}
			seen[dev.ID] = true
			log.Info().Str("name", dev.Name).Str("address", dev.ID).Msg("found device")
			select {
			case deviceChan <- dev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for path, ifaces := range objs {
			if props, ok := ifaces[deviceIface]; ok {
				if !emit(deviceFromProps(path, props)) {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				dev, found := deviceFromSignal(sig)
				if found && !emit(dev) {
					return
				}
			}
		}
	}()

	return deviceChan, nil
}

// Scan finds any devices with given string prefixes in their name, blocks for duration.
func Scan(duration time.Duration, customPrefixes ...string) ([]FoundDevice, error) {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	devices, err := ScanStream(ctx, customPrefixes...)
	if err != nil {
		return nil, err
	}
	var results []FoundDevice
	for dev := range devices {
		results = append(results, dev)
	}
	log.Info().Int("found", len(results)).Msg("scan finished")
	return results, nil
}

// FindFirst returns the first device whose name starts with prefix, or
// ErrNoDevice when ctx ends first.
func FindFirst(ctx context.Context, prefix string) (FoundDevice, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	devices, err := ScanStream(ctx, prefix)
	if err != nil {
		return FoundDevice{}, err
	}
	dev, ok := <-devices
	if !ok {
		return FoundDevice{}, ErrNoDevice
	}
	return dev, nil
}

func managedObjects(bus *dbus.Conn) ([]dbus.ObjectPath, map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	obj := bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if call := obj.Call(objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return nil, nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	} else if err := call.Store(&objs); err != nil {
		return nil, nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	var adapters []dbus.ObjectPath
	for path, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; ok {
			adapters = append(adapters, path)
		}
	}
	if len(adapters) == 0 {
		return nil, nil, errors.New("no Bluetooth adapter found")
	}
	return adapters, objs, nil
}

// deviceFromSignal extracts a device from InterfacesAdded or from a
// PropertiesChanged signal on a Device1 object.
func deviceFromSignal(sig *dbus.Signal) (FoundDevice, bool) {
	if sig == nil || len(sig.Body) < 2 {
		return FoundDevice{}, false
	}
	switch sig.Name {
	case objManagerIface + ".InterfacesAdded":
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[deviceIface]
		if !ok {
			return FoundDevice{}, false
		}
		return deviceFromProps(path, props), true
	case propsIface + ".PropertiesChanged":
		iface, _ := sig.Body[0].(string)
		props, _ := sig.Body[1].(map[string]dbus.Variant)
		if iface != deviceIface || props == nil {
			return FoundDevice{}, false
		}
		return deviceFromProps(sig.Path, props), true
	}
	return FoundDevice{}, false
}

func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) FoundDevice {
	dev := FoundDevice{Path: string(path)}
	if v, ok := props["Address"]; ok {
		dev.ID, _ = v.Value().(string)
	}
	if v, ok := props["Name"]; ok {
		dev.Name, _ = v.Value().(string)
	}
	if v, ok := props["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			dev.RSSI = int(rssi)
		}
	}
	if dev.ID == "" {
		dev.ID = macFromPath(path)
	}
	return dev
}

func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	// Expect .../dev_XX_XX_XX_XX_XX_XX
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

func matchesPrefix(name string, prefixes []string) bool {
	if name == "" {
		return false
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// getPrefixes helper function, provide prefixes in addition to registered board prefixes
func getPrefixes(customPrefixes ...string) []string {
	if len(customPrefixes) > 0 {
		return customPrefixes
	}
	return RegisteredPrefixes()
}
