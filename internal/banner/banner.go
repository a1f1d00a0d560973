package banner

import (
	"dsbench/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
     __     __                    __  
 ___/ /___ / /  ___  ___  ____   / /  
/ _  /(_-</ _ \/ -_)/ _ \/ __/  / _ \ 
\_,_//___/_.__/\__//_//_/\__/  /_//_/ `

	return "\n" + style.Render(ascii) + "\n"
}
