package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-dynpart/internal/cleanup"
	"github.com/deploymenttheory/go-dynpart/internal/config"
	"github.com/deploymenttheory/go-dynpart/internal/controller"
	"github.com/deploymenttheory/go-dynpart/internal/device"
	"github.com/deploymenttheory/go-dynpart/internal/devicemapper"
	"github.com/deploymenttheory/go-dynpart/internal/features"
	"github.com/deploymenttheory/go-dynpart/internal/interfaces"
	"github.com/deploymenttheory/go-dynpart/internal/logging"
	"github.com/deploymenttheory/go-dynpart/internal/metadata"
)

// ErrSnapshotEngineRequired is returned on Virtual A/B devices when no
// snapshot engine has been supplied.
var ErrSnapshotEngineRequired = errors.New("virtual A/B is enabled but no snapshot engine is configured")

// Options are the dependencies a ServiceFactory cannot build from config
type Options struct {
	Config *config.Config
	Logger *logrus.Logger

	// Snapshot is the Virtual A/B engine; required when the device enables it
	Snapshot interfaces.SnapshotManager
	// Properties overrides the property files named in Config
	Properties interfaces.PropertyStore
	// Fs defaults to the OS filesystem
	Fs afero.Fs
}

// ServiceFactory builds the controller and its collaborators from config
type ServiceFactory struct {
	opts Options

	mu          sync.Mutex
	flags       features.Flags
	store       *metadata.FileStore
	controller  *controller.Controller
	initialized bool
}

// NewServiceFactory creates a new service factory instance
func NewServiceFactory(opts Options) *ServiceFactory {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return &ServiceFactory{opts: opts}
}

// Initialize reads the device properties and wires every service
func (sf *ServiceFactory) Initialize() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.initialize()
}

func (sf *ServiceFactory) initialize() error {
	if sf.initialized {
		return nil
	}
	cfg := sf.opts.Config
	if cfg == nil {
		return fmt.Errorf("configuration is required")
	}
	log := sf.opts.Logger

	props := sf.opts.Properties
	if props == nil {
		fileProps, err := features.LoadPropertyFiles(cfg.PropertyFiles...)
		if err != nil {
			return err
		}
		props = fileProps
	}
	sf.flags = features.Read(props, log)
	if sf.flags.VirtualAB.IsEnabled() && sf.opts.Snapshot == nil {
		return ErrSnapshotEngineRequired
	}

	var dirs interfaces.DeviceDirLocator = device.NewMiscLocator(sf.opts.Fs, cfg.MiscDevice)
	if cfg.DeviceDir != "" {
		dirs = device.StaticDir(cfg.DeviceDir)
	}

	sf.store = metadata.NewFileStore(sf.opts.Fs, metadata.UpdateOptions{
		Retrofit:  sf.flags.DynamicPartitions.IsRetrofit(),
		VirtualAB: sf.flags.VirtualAB.IsEnabled(),
	}, log)

	gateway := devicemapper.NewGateway(devicemapper.Options{
		Dmsetup:   cfg.DmsetupPath,
		MapperDir: cfg.MapperDir,
		Metadata:  sf.store,
		Fs:        sf.opts.Fs,
		Logger:    log,
	})

	ctl, err := controller.New(controller.Options{
		Flags:          sf.flags,
		Mode:           cfg.ExecutionMode(),
		DeviceMapper:   gateway,
		Snapshot:       sf.opts.Snapshot,
		Metadata:       sf.store,
		DeviceDir:      dirs,
		SuperPartition: props.GetString(features.SuperPartitionProperty, cfg.SuperPartitionName),
		Fs:             sf.opts.Fs,
		Cleanup:        cleanup.NewMergeWait(cfg.MergePollInterval, cfg.MergeTimeout, log),
		Logger:         log,
	})
	if err != nil {
		return err
	}
	sf.controller = ctl

	log.WithFields(logrus.Fields{
		"dynamic_partitions": sf.flags.DynamicPartitions.String(),
		"virtual_ab":         sf.flags.VirtualAB.String(),
		"mode":               cfg.ExecutionMode().String(),
	}).Debug("services initialized")
	sf.initialized = true
	return nil
}

// Controller returns the dynamic partition controller
func (sf *ServiceFactory) Controller() (*controller.Controller, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.initialize(); err != nil {
		return nil, err
	}
	return sf.controller, nil
}

// MetadataStore returns the super partition metadata store
func (sf *ServiceFactory) MetadataStore() (*metadata.FileStore, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.initialize(); err != nil {
		return nil, err
	}
	return sf.store, nil
}

// Flags returns the device's feature classification
func (sf *ServiceFactory) Flags() (features.Flags, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.initialize(); err != nil {
		return features.Flags{}, err
	}
	return sf.flags, nil
}

// Shutdown unmaps everything the controller mapped
func (sf *ServiceFactory) Shutdown(ctx context.Context) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if !sf.initialized {
		return
	}
	sf.controller.Cleanup(ctx)
	sf.controller = nil
	sf.store = nil
	sf.initialized = false
}

// IsInitialized returns whether the factory has been initialized
func (sf *ServiceFactory) IsInitialized() bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.initialized
}
