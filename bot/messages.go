package bot

import (
	"fmt"
	"strings"

	"github.com/one-zero-eight/printers/config"
)

const (
	msgWelcome = "Send me a document to print it, or use /scan to scan paper into a PDF."
	msgHelp    = "Send a document and I will print it on one of the office printers.\n" +
		"/scan starts a scanning session.\n" +
		"/start resets whatever is in progress."
	msgExpired      = "This menu has expired. Send /start to begin again."
	msgTryStart     = "Something went wrong. Try /start."
	msgScannerBusy  = "The scanner is busy right now, try again in a moment."
	msgUnsupported  = "I cannot print this file type. PDF, office documents, images, text and markdown work."
	msgEmptyFile    = "The file is empty."
	msgPrintTimeout = "The printer did not finish in time, so the job was cancelled. Check the device."
	msgCancelled    = "Cancelled on demand."
)

func sidesLabel(sides string) string {
	if sides == "two-sided-long-edge" || sides == "two-sided-short-edge" {
		return "two-sided"
	}
	return "one-sided"
}

func printSettingsText(c Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📄 %s (%d pages)\n\n", c.FileName, c.Pages)
	fmt.Fprintf(&b, "Printer: %s\n", c.Printer)
	fmt.Fprintf(&b, "Copies: %d\n", c.Copies)
	pages := c.PageRanges
	if pages == "" {
		pages = "all"
	}
	fmt.Fprintf(&b, "Pages: %s\n", pages)
	fmt.Fprintf(&b, "Sides: %s\n", sidesLabel(c.Sides))
	fmt.Fprintf(&b, "Layout: %d per sheet", c.NumberUp)
	return b.String()
}

func printSettingsKeyboard() [][]Button {
	return [][]Button{
		{{Label: "Printer", Data: "setup:printer"}, {Label: "Copies", Data: "setup:copies"}},
		{{Label: "Pages", Data: "setup:pages"}, {Label: "Sides", Data: "setup:sides"}},
		{{Label: "Layout", Data: "setup:layout"}},
		{{Label: "🖨 Print", Data: "print:confirm"}, {Label: "Cancel", Data: "print:cancel"}},
	}
}

func printerKeyboard(printers []config.Printer) [][]Button {
	var rows [][]Button
	for _, p := range printers {
		rows = append(rows, []Button{{Label: p.DisplayName, Data: "printer:" + p.CupsName}})
	}
	rows = append(rows, []Button{{Label: "Back", Data: "back"}})
	return rows
}

func sidesKeyboard() [][]Button {
	return [][]Button{
		{{Label: "One-sided", Data: "sides:one-sided"}},
		{{Label: "Two-sided", Data: "sides:two-sided-long-edge"}},
		{{Label: "Back", Data: "back"}},
	}
}

func layoutKeyboard() [][]Button {
	return [][]Button{
		{{Label: "1", Data: "layout:1"}, {Label: "2", Data: "layout:2"}, {Label: "4", Data: "layout:4"}},
		{{Label: "Back", Data: "back"}},
	}
}

func scanSettingsText(c Context) string {
	var b strings.Builder
	b.WriteString("🖨 Scan settings\n\n")
	fmt.Fprintf(&b, "Scanner: %s\n", c.Scanner)
	fmt.Fprintf(&b, "Quality: %d dpi\n", c.Quality)
	source := "glass"
	if c.Mode == "auto" {
		source = "feeder"
	}
	fmt.Fprintf(&b, "Source: %s\n", source)
	duplex := "no"
	if c.ScanSides {
		duplex = "yes"
	}
	fmt.Fprintf(&b, "Both sides: %s\n", duplex)
	crop := "no"
	if c.Crop {
		crop = "yes"
	}
	fmt.Fprintf(&b, "Auto-crop: %s\n", crop)
	name := c.ScanName
	if name == "" {
		name = "scan"
	}
	fmt.Fprintf(&b, "Name: %s", name)
	return b.String()
}

func scanSettingsKeyboard() [][]Button {
	return [][]Button{
		{{Label: "Scanner", Data: "setup:scanner"}, {Label: "Quality", Data: "setup:quality"}},
		{{Label: "Source", Data: "setup:scanmode"}, {Label: "Sides", Data: "setup:scansides"}},
		{{Label: "Crop", Data: "setup:crop"}, {Label: "Name", Data: "setup:scanname"}},
		{{Label: "📠 Scan", Data: "scan:start"}, {Label: "Cancel", Data: "scan:cancel"}},
	}
}

func scannerKeyboard(scanners []config.Scanner) [][]Button {
	var rows [][]Button
	for _, sc := range scanners {
		rows = append(rows, []Button{{Label: sc.DisplayName, Data: "scanner:" + sc.Name}})
	}
	rows = append(rows, []Button{{Label: "Back", Data: "back"}})
	return rows
}

func qualityKeyboard() [][]Button {
	return [][]Button{
		{{Label: "200 dpi", Data: "quality:200"}, {Label: "300 dpi", Data: "quality:300"}},
		{{Label: "400 dpi", Data: "quality:400"}, {Label: "600 dpi", Data: "quality:600"}},
		{{Label: "Back", Data: "back"}},
	}
}

func scanModeKeyboard() [][]Button {
	return [][]Button{
		{{Label: "Glass", Data: "scanmode:manual"}, {Label: "Feeder", Data: "scanmode:auto"}},
		{{Label: "Back", Data: "back"}},
	}
}

func toggleKeyboard(prefix string) [][]Button {
	return [][]Button{
		{{Label: "Yes", Data: prefix + ":true"}, {Label: "No", Data: prefix + ":false"}},
		{{Label: "Back", Data: "back"}},
	}
}

func scanPauseText(c Context) string {
	return fmt.Sprintf("Scanned %d pages so far. Scan more or finish to receive the PDF.", c.ScanResultPageCount)
}

func scanPauseKeyboard() [][]Button {
	return [][]Button{
		{{Label: "Scan more", Data: "scan:more"}},
		{{Label: "Remove last page", Data: "scan:undo"}},
		{{Label: "✅ Finish", Data: "scan:finish"}, {Label: "Cancel", Data: "scan:cancel"}},
	}
}
