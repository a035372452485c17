package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/butterflysync/bdp/internal/config"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/store"
)

func newInitCmd() *cobra.Command {
	var deviceName string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a data directory, device identity, and config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, deviceName)
		},
	}

	cmd.Flags().StringVar(&deviceName, "name", "", "device name (defaults to the host name)")

	return cmd
}

func runInit(cmd *cobra.Command, deviceName string) error {
	cc := mustCLIContext(cmd.Context())

	if err := os.MkdirAll(cc.Cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("init: creating data dir: %w", err)
	}

	if deviceName == "" {
		deviceName, _ = os.Hostname()
	}

	if deviceName == "" {
		deviceName = "bdpsync-device"
	}

	cc.Cfg.DeviceName = deviceName

	st, err := store.Open(config.StorePath(cc.Cfg.DataDir), cc.Logger)
	if err != nil {
		return fmt.Errorf("init: opening store: %w", err)
	}
	defer st.Close()

	deviceID := ids.NewDeviceID()
	if cc.Cfg.DeviceID != "" {
		if existing, err := ids.ParseDeviceID(cc.Cfg.DeviceID); err == nil {
			deviceID = existing
		}
	}

	cc.Cfg.DeviceID = deviceID.String()

	ctx := cmd.Context()

	if err := st.PutDevice(ctx, model.Device{
		DeviceID:     deviceID,
		Name:         deviceName,
		Capabilities: []string{"bdp/1"},
		CreatedAt:    nowMillis(),
	}); err != nil {
		return fmt.Errorf("init: recording device identity: %w", err)
	}

	cfgPath := config.DefaultConfigPath(cc.Cfg.DataDir)
	if flagConfigPath != "" {
		cfgPath = flagConfigPath
	}

	if err := config.Write(cfgPath, cc.Cfg); err != nil {
		return fmt.Errorf("init: writing config: %w", err)
	}

	fmt.Printf("Initialized bdpsync in %s\n", cc.Cfg.DataDir)
	fmt.Printf("Device: %s (%s)\n", deviceName, deviceID.String())
	fmt.Printf("Config: %s\n", cfgPath)

	return nil
}
