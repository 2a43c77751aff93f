package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/oxleaf/lumenfs"
)

type rootParameters struct {
	ImageFilepath string `short:"f" long:"image-filepath" description:"File-path of the flash image" required:"true"`
	DeviceSize    int64  `short:"d" long:"device-size" description:"Total device size, in bytes" required:"true"`
	SectorSize    int    `short:"s" long:"sector-size" description:"Erase-granule size, in bytes" required:"true"`
	ClusterSize   int    `short:"c" long:"cluster-size" description:"Allocation-granule size, in bytes" required:"true"`
	ShowStats     bool   `long:"stats" description:"Show free/orphaned space after the listing"`
}

var (
	rootArguments = new(rootParameters)
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	g := lumenfs.Geometry{
		DeviceSize:  rootArguments.DeviceSize,
		SectorSize:  rootArguments.SectorSize,
		ClusterSize: rootArguments.ClusterSize,
	}

	driver, err := lumenfs.NewFileBlockDriver(rootArguments.ImageFilepath, g, false)
	log.PanicIf(err)

	defer driver.Close()

	fs, err := lumenfs.NewFileSystem(driver)
	log.PanicIf(err)

	err = fs.Mount()
	log.PanicIf(err)

	names, err := fs.GetFiles()
	log.PanicIf(err)

	for _, name := range names {
		size, err := fs.GetFileSize(name)
		log.PanicIf(err)

		createdAt, err := fs.GetFileCreationTime(name)
		log.PanicIf(err)

		fmt.Printf("%15s %30s %s\n", humanize.Comma(size), createdAt, name)
	}

	if rootArguments.ShowStats == true {
		freeBytes, orphanedBytes, err := fs.GetStats()
		log.PanicIf(err)

		fmt.Printf("\n")
		fmt.Printf("Free: %s\n", humanize.Bytes(uint64(freeBytes)))
		fmt.Printf("Orphaned: %s\n", humanize.Bytes(uint64(orphanedBytes)))
	}
}
