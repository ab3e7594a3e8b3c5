// Command flogfs is a CLI over a file-backed FLogFS image: format, ls, cat,
// write, rm and info subcommands. Only format takes flags (its geometry),
// parsed with jessevdk/go-flags; the others take positional arguments.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/flogfs/flogfs"
	"github.com/flogfs/flogfs/flashsim"
)

const usage = `flogfs - FLogFS image tool

Usage:
  flogfs format <image> [geometry flags]   Erase and lay down a fresh filesystem
  flogfs ls <image>                        List live files
  flogfs cat <image> <name>                Write a file's contents to stdout
  flogfs write <image> <name>              Append stdin to a file (creating it if new)
  flogfs rm <image> <name>                 Delete a file
  flogfs info <image>                      Show allocator/volume statistics
  flogfs help                              Show this help message

Geometry flags (format only, all optional, defaults match spec's "typical config"):
  -s, --sector-size=N
  -p, --sectors-per-page=N
  -b, --pages-per-block=N
  -n, --nblocks=N
`

type geometryFlags struct {
	SectorSize     uint32 `short:"s" long:"sector-size" default:"512" description:"bytes per sector"`
	SectorsPerPage uint32 `short:"p" long:"sectors-per-page" default:"4" description:"sectors per page"`
	PagesPerBlock  uint32 `short:"b" long:"pages-per-block" default:"64" description:"pages per erase block"`
	NBlocks        uint32 `short:"n" long:"nblocks" default:"1024" description:"number of erase blocks"`
}

func (g geometryFlags) layout() flashsim.Layout {
	return flashsim.Layout{
		SectorSize:     g.SectorSize,
		SpareBytes:     32,
		SectorsPerPage: g.SectorsPerPage,
		PagesPerBlock:  g.PagesPerBlock,
		NBlocks:        g.NBlocks,
	}
}

func (g geometryFlags) geometry() flogfs.Geometry {
	return flogfs.Geometry{
		SectorSize:     g.SectorSize,
		SectorsPerPage: g.SectorsPerPage,
		PagesPerBlock:  g.PagesPerBlock,
		NBlocks:        g.NBlocks,
		MaxFilenameLen: flogfs.MaxFilenameLen,
		PreallocSize:   10,
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "format":
		err = runFormat(args)
	case "ls":
		err = runLs(args)
	case "cat":
		err = runCat(args)
	case "write":
		err = runWrite(args)
	case "rm":
		err = runRm(args)
	case "info":
		err = runInfo(args)
	case "help":
		fmt.Println(usage)
		return
	default:
		fmt.Printf("Error: unknown command %q\n", cmd)
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "flogfs: %s\n", err)
		os.Exit(1)
	}
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// openExisting opens an image with the default geometry and mounts it.
// Geometry isn't persisted on-media (spec §2 treats it as a build-time
// constant shared by every party touching the array), so every subcommand
// but format assumes the default geometry an image was formatted with.
func openExisting(path string) (*flogfs.Filesystem, func(), error) {
	g := geometryFlags{SectorSize: 512, SectorsPerPage: 4, PagesPerBlock: 64, NBlocks: 1024}
	drv, err := flashsim.OpenFile(path, g.layout())
	if err != nil {
		return nil, nil, err
	}
	fs, err := flogfs.New(drv, g.geometry(), flogfs.WithLogger(newLogger()))
	if err != nil {
		drv.Close()
		return nil, nil, err
	}
	if err := fs.Mount(); err != nil {
		drv.Close()
		return nil, nil, err
	}
	return fs, func() { drv.Close() }, nil
}

func runFormat(args []string) error {
	var g geometryFlags
	positional, err := flags.NewParser(&g, flags.Default).ParseArgs(args)
	if err != nil {
		return err
	}
	if len(positional) < 1 {
		return fmt.Errorf("usage: flogfs format <image> [flags]")
	}
	drv, err := flashsim.OpenFile(positional[0], g.layout())
	if err != nil {
		return err
	}
	defer drv.Close()

	fs, err := flogfs.New(drv, g.geometry(), flogfs.WithLogger(newLogger()))
	if err != nil {
		return err
	}
	if err := fs.Format(); err != nil {
		return err
	}
	fmt.Printf("formatted %s (%s)\n", positional[0], humanize.Bytes(uint64(g.NBlocks)*uint64(g.SectorsPerPage)*uint64(g.PagesPerBlock)*uint64(g.SectorSize)))
	return nil
}

func runLs(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: flogfs ls <image>")
	}
	fs, closeFn, err := openExisting(args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	it, err := fs.ListStart()
	if err != nil {
		return err
	}
	defer it.Stop()
	for {
		name, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Println(name)
	}
	return nil
}

func runCat(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: flogfs cat <image> <name>")
	}
	fs, closeFn, err := openExisting(args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	rh, err := fs.OpenRead(args[1])
	if err != nil {
		return err
	}
	defer rh.Close()
	_, err = io.Copy(os.Stdout, readerFunc(rh.Read))
	return err
}

// readerFunc adapts a Read method value to io.Reader for io.Copy.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func runWrite(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: flogfs write <image> <name>")
	}
	fs, closeFn, err := openExisting(args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	wh, err := fs.OpenWrite(args[1])
	if err != nil {
		return err
	}
	buf := make([]byte, 4096)
	for {
		n, rerr := os.Stdin.Read(buf)
		if n > 0 {
			if _, werr := wh.Write(buf[:n]); werr != nil {
				wh.Close()
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			wh.Close()
			return rerr
		}
	}
	return wh.Close()
}

func runRm(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: flogfs rm <image> <name>")
	}
	fs, closeFn, err := openExisting(args[0])
	if err != nil {
		return err
	}
	defer closeFn()
	return fs.Remove(args[1])
}

func runInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: flogfs info <image>")
	}
	fs, closeFn, err := openExisting(args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	st, err := fs.Stat()
	if err != nil {
		return err
	}
	fmt.Printf("blocks:        %d\n", st.NBlocks)
	fmt.Printf("free blocks:   %d\n", st.NumFreeBlocks)
	fmt.Printf("mean free age: %d\n", st.MeanFreeAge)
	fmt.Printf("max block age: %d\n", st.MaxBlockAge)
	fmt.Printf("max file id:   %d\n", st.MaxFileID)
	return nil
}
