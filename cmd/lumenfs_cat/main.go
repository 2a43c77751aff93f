package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/oxleaf/lumenfs"
)

type rootParameters struct {
	ImageFilepath  string `short:"f" long:"image-filepath" description:"File-path of the flash image" required:"true"`
	DeviceSize     int64  `short:"d" long:"device-size" description:"Total device size, in bytes" required:"true"`
	SectorSize     int    `short:"s" long:"sector-size" description:"Erase-granule size, in bytes" required:"true"`
	ClusterSize    int    `short:"c" long:"cluster-size" description:"Allocation-granule size, in bytes" required:"true"`
	Name           string `short:"n" long:"name" description:"Name of the file to extract" required:"true"`
	OutputFilepath string `short:"o" long:"output-filepath" description:"File-path to write to ('-' for STDOUT)" required:"true"`
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

	exists, err := fs.Exists(rootArguments.Name)
	log.PanicIf(err)

	if exists != true {
		fmt.Printf("File not found.\n")
		os.Exit(2)
	}

	data, err := fs.ReadAllBytes(rootArguments.Name)
	log.PanicIf(err)

	var w *os.File

	if rootArguments.OutputFilepath == "-" {
		w = os.Stdout
	} else {
		w, err = os.Create(rootArguments.OutputFilepath)
		log.PanicIf(err)

		defer w.Close()
	}

	_, err = w.Write(data)
	log.PanicIf(err)

	if rootArguments.OutputFilepath != "-" {
		fmt.Printf("(%d) bytes written.\n", len(data))
	}
}
