package main

import (
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/oxleaf/lumenfs"
)

type rootParameters struct {
	ImageFilepath string `short:"f" long:"image-filepath" description:"File-path of the flash image (created if missing)" required:"true"`
	DeviceSize    int64  `short:"d" long:"device-size" description:"Total device size, in bytes" required:"true"`
	SectorSize    int    `short:"s" long:"sector-size" description:"Erase-granule size, in bytes" required:"true"`
	ClusterSize   int    `short:"c" long:"cluster-size" description:"Allocation-granule size, in bytes" required:"true"`
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

	driver, err := lumenfs.NewFileBlockDriver(rootArguments.ImageFilepath, g, true)
	log.PanicIf(err)

	defer driver.Close()

	fs, err := lumenfs.NewFileSystem(driver)
	log.PanicIf(err)

	err = fs.Format()
	log.PanicIf(err)
}
