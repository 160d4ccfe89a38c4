package ui

import "fmt"

func PrintBanner(onlyBanner ...bool) {
	banner := `
    ██████╗  █████╗ ████████╗ ██████╗██╗  ██╗██████╗ ██╗   ██╗███╗   ██╗
    ██╔══██╗██╔══██╗╚══██╔══╝██╔════╝██║  ██║██╔══██╗██║   ██║████╗  ██║
    ██████╔╝███████║   ██║   ██║     ███████║██████╔╝██║   ██║██╔██╗ ██║
    ██╔═══╝ ██╔══██║   ██║   ██║     ██╔══██║██╔══██╗██║   ██║██║╚██╗██║
    ██║     ██║  ██║   ██║   ╚██████╗██║  ██║██║  ██║╚██████╔╝██║ ╚████║
    ╚═╝     ╚═╝  ╚═╝   ╚═╝    ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═══╝
    `
	onlyBannerValue := false
	if len(onlyBanner) > 0 {
		onlyBannerValue = onlyBanner[0]
	}

	if !onlyBannerValue {
		usage := `
        Usage:
            maintain --servers=<host,...> [--config=<path>]

        Options:
            --servers       Comma-separated server list (or --server-file)
            --config        Path to configuration file (default: ./config.json)
            --yes           Skip confirmation prompts

        Examples:
            maintain --servers=sql-01,sql-02
            maintain --server-file=./fleet.txt --config=./my-config.json
        `
		fmt.Printf("\033[1;36m%s\033[0m\n%s", banner, usage)
		return
	}

	fmt.Printf("\033[1;36m%s\033[0m\n", banner)
}
