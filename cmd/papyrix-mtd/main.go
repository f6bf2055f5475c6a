package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/papyrix-mtd/internal/detect"
	"github.com/bigbag/papyrix-mtd/internal/errno"
	"github.com/bigbag/papyrix-mtd/internal/heap"
	"github.com/bigbag/papyrix-mtd/internal/mtd"
	"github.com/bigbag/papyrix-mtd/internal/protocol"
	"github.com/bigbag/papyrix-mtd/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag   string
	imageFlag    string
	portFlag     string
	baudFlag     int
	startFlag    int64 = -1
	sizeFlag     int64
	verboseFlag  bool
	compressFlag bool
	verifyFlag   bool
	rebootFlag   bool
	outputFlag   string
	heapFlag     int
	firstFlag    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "papyrix-mtd",
		Short: "Block access to the reserved flash region of Xteink X4 (ESP32-C3) devices",
		Long: `Papyrix MTD exposes the filesystem partition of an ESP32 flash part as a
block device: erase whole sectors, read and program pages, and query the
geometry a filesystem driver would see.

The flash is either a local image file (--image) or a live board reached
through its ROM serial bootloader (--port).`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFlag, "config", "c", "", "Board description (embedded default if not specified)")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging to stderr")

	deviceFlags := func(cmd *cobra.Command) {
		f := cmd.Flags()
		f.StringVarP(&imageFlag, "image", "i", "", "Flash image file (created erased if missing)")
		f.StringVarP(&portFlag, "port", "p", "", "Serial port of a board in bootloader mode")
		f.IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
		f.Int64Var(&startFlag, "start", -1, "Override reserved region start address")
		f.Int64Var(&sizeFlag, "size", 0, "Override reserved region size")
		f.BoolVar(&compressFlag, "compress", true, "Send programmed data compressed (--port only)")
		f.BoolVar(&verifyFlag, "verify", true, "Verify programmed data with MD5 (--port only)")
		f.BoolVar(&rebootFlag, "reboot", false, "Reboot the board when done (--port only)")
	}

	geometryCmd := &cobra.Command{
		Use:   "geometry",
		Short: "Show the block device geometry",
		Args:  cobra.NoArgs,
		RunE:  runGeometry,
	}

	eraseCmd := &cobra.Command{
		Use:   "erase <sector> <count>",
		Short: "Erase sectors of the reserved region",
		Long:  "Erase count sectors starting at sector, numbered from the start of the reserved region.",
		Args:  cobra.ExactArgs(2),
		RunE:  runErase,
	}

	bulkEraseCmd := &cobra.Command{
		Use:   "bulk-erase",
		Short: "Erase the whole reserved region",
		Args:  cobra.NoArgs,
		RunE:  runBulkErase,
	}

	readCmd := &cobra.Command{
		Use:   "read <offset> <length>",
		Short: "Read bytes from the reserved region",
		Long:  "Read length bytes at offset. Output is a hex dump unless --output is given.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRead,
	}
	readCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Write raw bytes to file")

	writeCmd := &cobra.Command{
		Use:   "write <offset> <file>",
		Short: "Program a file into the reserved region",
		Long: `Program the contents of file at offset. NOR programming only clears bits,
so erase the target sectors first unless they are known to be blank.`,
		Args: cobra.ExactArgs(2),
		RunE: runWrite,
	}

	for _, cmd := range []*cobra.Command{geometryCmd, eraseCmd, bulkEraseCmd, readCmd, writeCmd} {
		deviceFlags(cmd)
	}

	allocCmd := &cobra.Command{
		Use:   "alloc <size>...",
		Short: "Simulate zeroed allocations over the board heaps",
		Long: `Allocate each size in turn through the heap arbiter and report which heap
served it. With --heap every request targets that heap index only.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAlloc,
	}
	allocCmd.Flags().IntVar(&heapFlag, "heap", -1, "Allocate from this heap index only")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Detect and show information about connected ESP32 devices.",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}
	infoCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (scan all if not specified)")
	infoCmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	infoCmd.Flags().BoolVar(&firstFlag, "first", false, "Stop at the first device found")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("papyrix-mtd %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(geometryCmd, eraseCmd, bulkEraseCmd, readCmd, writeCmd,
		allocCmd, infoCmd, listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		if code := errno.Code(err); code != errno.EIO.Negative() {
			fmt.Fprintf(os.Stderr, "errno: %d\n", code)
		}
		os.Exit(1)
	}
}

func runGeometry(cmd *cobra.Command, args []string) error {
	dev, err := openDevice(newLogger())
	if err != nil {
		return err
	}
	defer dev.Close()

	var info mtd.GeometryInfo
	if err := dev.Ioctl(mtd.CmdGeometry, &info); err != nil {
		return err
	}
	geo := dev.geo

	fmt.Printf("Backend:        %s\n", dev.source)
	fmt.Printf("Flash size:     0x%X\n", dev.board.Flash.Size)
	fmt.Printf("Reserved:       0x%X-0x%X (%d bytes)\n", geo.ReservedStart, geo.ReservedStart+geo.ReservedSize, geo.ReservedSize)
	fmt.Printf("First sector:   %d\n", geo.FirstSector)
	fmt.Printf("Block size:     %d\n", info.BlockSize)
	fmt.Printf("Erase size:     %d\n", info.EraseSize)
	fmt.Printf("Erase blocks:   %d\n", info.EraseBlocks)
	fmt.Printf("Pages:          %d\n", geo.PageCount())
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	start, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	count, err := parseNumber(args[1])
	if err != nil {
		return err
	}

	dev, err := openDevice(newLogger())
	if err != nil {
		return err
	}
	defer dev.Close()

	if start < 0 || count < 0 || start+count > int64(dev.geo.SectorCount) {
		return fmt.Errorf("sectors %d+%d outside region of %d sectors: %w",
			start, count, dev.geo.SectorCount, mtd.ErrInvalidArgument)
	}
	return eraseSectors(dev, start, int(count))
}

func runBulkErase(cmd *cobra.Command, args []string) error {
	dev, err := openDevice(newLogger())
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Printf("Erasing %d sector(s)...\n", dev.geo.SectorCount)
	if err := dev.Ioctl(mtd.CmdBulkErase, nil); err != nil {
		return err
	}
	fmt.Println("Bulk erase complete!")
	return nil
}

// eraseSectors erases one sector per call so the bar can follow along.
func eraseSectors(dev mtd.Device, start int64, count int) error {
	bar := newBar(count, "Erasing")
	for i := 0; i < count; i++ {
		if err := dev.Erase(start+int64(i), 1); err != nil {
			return fmt.Errorf("erase sector %d: %w", start+int64(i), err)
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Printf("Erased %d sector(s)\n", count)
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	offset, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	length, err := parseNumber(args[1])
	if err != nil {
		return err
	}

	dev, err := openDevice(newLogger())
	if err != nil {
		return err
	}
	defer dev.Close()

	if length < 0 || length > int64(dev.geo.ReservedSize) {
		return fmt.Errorf("length %d outside region: %w", length, mtd.ErrInvalidArgument)
	}
	buf := make([]byte, length)
	if _, err := dev.Read(offset, len(buf), buf); err != nil {
		return err
	}

	if outputFlag != "" {
		return os.WriteFile(outputFlag, buf, 0o644)
	}
	fmt.Print(hex.Dump(buf))
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	offset, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	dev, err := openDevice(newLogger())
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Printf("Writing %s at offset 0x%X (%d bytes)...\n", args[1], offset, len(data))

	chunk := int(dev.geo.SectorSize)
	bar := newBar((len(data)+chunk-1)/chunk, "Writing")
	for off := 0; off < len(data); off += chunk {
		n := min(chunk, len(data)-off)
		if _, err := dev.Write(offset+int64(off), n, data[off:]); err != nil {
			return fmt.Errorf("write at 0x%X: %w", offset+int64(off), err)
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Println("Write complete!")
	return nil
}

func runAlloc(cmd *cobra.Command, args []string) error {
	board, err := loadBoard()
	if err != nil {
		return err
	}
	arenas := board.Arenas()
	arb, err := board.Arbiter(arenas, newLogger())
	if err != nil {
		return err
	}

	fmt.Printf("Mode: %s, priority heap: %s\n", arb.Mode(), arenas[arb.Priority()].Name())
	for _, arg := range args {
		size, err := parseNumber(arg)
		if err != nil {
			return err
		}

		if heapFlag >= 0 {
			if _, err := arb.ZAllocAt(heapFlag, int(size)); err != nil {
				fmt.Printf("  %8d bytes: %v (%d)\n", size, err, errno.Code(err))
				continue
			}
			fmt.Printf("  %8d bytes: %s\n", size, arenas[heapFlag].Name())
			continue
		}

		buf, idx := arb.Locate(int(size))
		switch {
		case buf == nil:
			fmt.Printf("  %8d bytes: %v\n", size, heap.ErrOutOfMemory)
		case idx < 0:
			fmt.Printf("  %8d bytes: generic allocator\n", size)
		default:
			fmt.Printf("  %8d bytes: %s\n", size, arenas[idx].Name())
		}
	}

	fmt.Println()
	for _, a := range arenas {
		st := a.Stats()
		fmt.Printf("  %-8s used %d/%d, %d alloc(s), %d failure(s)\n", st.Name, st.Used, st.Capacity, st.Allocs, st.Failures)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	d := detect.New(baudFlag)
	d.Logger = newLogger()

	if portFlag != "" {
		result, err := d.Probe(portFlag)
		if err != nil {
			return fmt.Errorf("failed to detect device on %s: %w", portFlag, err)
		}
		printDeviceInfo(result)
		return nil
	}

	fmt.Println("Scanning for ESP32 devices...")
	if firstFlag {
		result, err := d.First()
		if err != nil {
			return err
		}
		printDeviceInfo(result)
		return nil
	}

	devices, err := d.All()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No ESP32 devices found")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, dev := range devices {
		fmt.Printf("Device %d:\n", i+1)
		printDeviceInfo(&dev)
		fmt.Println()
	}
	return nil
}

func printDeviceInfo(d *detect.Result) {
	fmt.Printf("  Port:     %s\n", d.Port)
	fmt.Printf("  Chip:     %s\n", d.ChipName)
	if d.ChipID != 0 {
		fmt.Printf("  Chip ID:  0x%02X\n", d.ChipID)
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
