package cli

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	styleFontID  = lipgloss.NewStyle().Foreground(colorWhite).Width(14)
	styleFontCol = lipgloss.NewStyle().Foreground(colorGray).Width(20)
)

func (c *CLI) fontsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fonts",
		Short: "List the registered fonts",
		Long:  `List the registered fonts and whether their files are present in the font directory.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.listFonts()
			return nil
		},
	}
}

func (c *CLI) listFonts() {
	dir := c.Config.Fonts.Dir
	c.printTitle("fonts in " + dir)

	missing := 0
	for _, f := range c.Config.FontRegistry().List() {
		status := styleIconSuccess.Render(iconSuccess)
		if _, err := os.Stat(filepath.Join(dir, f.File)); err != nil {
			status = styleIconWarning.Render(iconWarning)
			missing++
		}
		line := status + " " + styleFontID.Render(f.ID) + styleFontCol.Render(f.Name) + styleDim.Render(f.Category)
		if f.ID == c.Config.Fonts.Default {
			line += " " + styleDim.Render("(default)")
		}
		c.println(line)
	}
	if missing > 0 {
		c.printWarning("%d font file(s) missing, those fonts render with the fallback face", missing)
	}
}
