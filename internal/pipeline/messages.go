package pipeline

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/brandgen/internal/derived"
	"github.com/cuongbtq/brandgen/internal/ledger"
)

var progressLines = []string{
	"Working on it...",
	"Still generating, hang tight.",
	"Almost there, adding the finishing touches.",
}

func progressMessage(tick int) string {
	if tick <= 0 {
		tick = 1
	}
	return progressLines[(tick-1)%len(progressLines)]
}

func apologyMessage(ref string) string {
	return fmt.Sprintf("Sorry, something went wrong while generating your request. "+
		"Please try again, and mention reference %s if it keeps happening.", ref)
}

func insufficientMessage(ent ledger.Entitlement, ref string) string {
	return fmt.Sprintf("Not enough balance for this request: it costs %d and your balance is %d. "+
		"Top up to continue. (ref %s)", ent.Cost, ent.Balance, ref)
}

func chargeLine(charge int, free bool) string {
	switch {
	case free && charge == 0:
		return "This one used your free generation."
	case charge == 0:
		return ""
	default:
		return fmt.Sprintf("Charged %d credits.", charge)
	}
}

func logoMessage(brand string, delivered int, failed []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here are %d logo concepts for %s.", delivered, brand)
	if len(failed) > 0 {
		fmt.Fprintf(&b, " %d concept(s) could not be generated.", len(failed))
	}
	return b.String()
}

func memeMessage(charge int, free bool) string {
	return strings.TrimSpace("Your meme is ready. " + chargeLine(charge, free))
}

func editMessage(charge int) string {
	return strings.TrimSpace("Your edited image is ready. " + chargeLine(charge, false))
}

func stickerBatchMessage(from, to, total int) string {
	return fmt.Sprintf("Stickers %d-%d of %d", from, to, total)
}

func stickerUnitApology(unit int) string {
	return fmt.Sprintf("Sorry, sticker #%d could not be generated and was not billed.", unit)
}

func stickerSummary(delivered, requested, charge int) string {
	return strings.TrimSpace(fmt.Sprintf("Delivered %d of %d stickers. %s", delivered, requested, chargeLine(charge, false)))
}

func packageMessage(name string, pkg *derived.Package) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your brand kit for %s is ready: %d files.", name, len(pkg.Assets))
	if pkg.IconFallback {
		b.WriteString(" Icons were made from the full logo this time.")
	}
	if len(pkg.Failed) > 0 {
		fmt.Fprintf(&b, " %d file(s) could not be saved.", len(pkg.Failed))
	}
	return b.String()
}
