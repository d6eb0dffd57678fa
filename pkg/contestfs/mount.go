package contestfs

import (
	"fmt"
	"os"
	"time"

	"github.com/beam-cloud/contestfs/pkg/contest"
	"github.com/beam-cloud/contestfs/pkg/render"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAttrTimeout  = time.Second
	DefaultEntryTimeout = time.Second
)

type MountOptions struct {
	MountPoint string
	State      *contest.State
	Render     *render.Cache

	// Kernel cache lifetimes. Views change on every refresh, so these stay
	// short.
	AttrTimeout  time.Duration
	EntryTimeout time.Duration

	AllowOther bool
	Debug      bool
}

// Mount prepares a FUSE server for the contest tree. The returned start
// function serves the mount in the background; the channel reports a mount
// failure or is closed once the server exits.
func Mount(options MountOptions) (func() error, <-chan error, *fuse.Server, error) {
	log.Info().Msgf("mounting contest tree to %s", options.MountPoint)

	if options.State == nil {
		return nil, nil, nil, fmt.Errorf("no contest state")
	}

	if _, err := os.Stat(options.MountPoint); os.IsNotExist(err) {
		err = os.MkdirAll(options.MountPoint, 0755)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create mount point directory: %v", err)
		}
	}

	contestfs, err := NewFileSystem(options.State, FileSystemOpts{Render: options.Render})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not create filesystem: %v", err)
	}

	root, _ := contestfs.Root()
	attrTimeout := options.AttrTimeout
	if attrTimeout <= 0 {
		attrTimeout = DefaultAttrTimeout
	}
	entryTimeout := options.EntryTimeout
	if entryTimeout <= 0 {
		entryTimeout = DefaultEntryTimeout
	}
	negativeTimeout := time.Duration(0)
	fsOptions := &fs.Options{
		AttrTimeout:     &attrTimeout,
		EntryTimeout:    &entryTimeout,
		NegativeTimeout: &negativeTimeout,
	}
	server, err := fuse.NewServer(fs.NewNodeFS(root, fsOptions), options.MountPoint, &fuse.MountOptions{
		FsName:        "contestfs",
		Name:          "contestfs",
		MaxBackground: 64,
		DisableXAttrs: true,
		AllowOther:    options.AllowOther,
		Debug:         options.Debug,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not create server: %v", err)
	}

	serverError := make(chan error, 1)
	startServer := func() error {
		go func() {
			go server.Serve()

			if err := server.WaitMount(); err != nil {
				serverError <- err
				return
			}

			server.Wait()
			if options.Render == nil {
				contestfs.render.Close()
			}

			close(serverError)
		}()

		return nil
	}

	return startServer, serverError, server, nil
}
