package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/githubnext/gh-aw-firewall-sub005/squidconf"
)

var (
	genAllowDomains []string
	genBlockDomains []string
	genOutputDir    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate proxy and compose artifacts without running anything",
	Long: `Generate writes the squid.conf and docker-compose.yml that a run with the
same policy would use, so they can be inspected or checked into CI.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringSliceVar(&genAllowDomains, "allow-domains", nil, "domains to allow (comma-separated, wildcards like *.example.com supported)")
	generateCmd.Flags().StringSliceVar(&genBlockDomains, "block-domains", nil, "domains to block even when a broader allow matches")
	generateCmd.Flags().StringVarP(&genOutputDir, "output", "o", ".", "directory to write artifacts into")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadPolicyConfig(genAllowDomains, genBlockDomains)
	if err != nil {
		return err
	}
	if err := validatePolicy(cfg); err != nil {
		return err
	}
	pol, err := compileProxyPolicy(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(genOutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	plan := planFromConfig(cfg, genOutputDir, nil)

	squidConf, err := squidconf.Generate(pol)
	if err != nil {
		return err
	}
	if err := os.WriteFile(plan.SquidConfPath(), squidConf, 0o644); err != nil {
		return fmt.Errorf("writing squid config: %w", err)
	}
	fmt.Printf("Wrote %s\n", plan.SquidConfPath())

	compose, err := plan.Compose()
	if err != nil {
		return err
	}
	if err := os.WriteFile(plan.ComposePath(), compose, 0o644); err != nil {
		return fmt.Errorf("writing compose file: %w", err)
	}
	fmt.Printf("Wrote %s\n", plan.ComposePath())
	return nil
}
