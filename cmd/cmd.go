package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"anacore"
	"anacore/anp"
	"anacore/config"
	"anacore/output"

	"github.com/spf13/cobra"
)

// flags 命令行参数，非空时覆盖配置文件
type flags struct {
	config   string
	out      string
	plot     string
	analysis string
	level    string
	json     bool
	serve    string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "anacore",
		Short:         "电路仿真分析控制",
		Long:          "按网表中的 .DC/.AC/.STEP/.TRAN/.MPDE/.MOR 卡片执行分析，并输出 JSON、HTML 图表与图片。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "anacore.yaml", "配置文件")
	root.PersistentFlags().StringVar(&f.level, "log-level", "", "日志级别 (debug/info/warn/error)")
	root.PersistentFlags().BoolVar(&f.json, "log-json", false, "以 JSON 输出日志")
	root.AddCommand(newRunCmd(f), newCheckCmd(f))
	return root
}

// load 读取配置并应用命令行覆盖，同时设置日志
func (f *flags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if f.out != "" {
		cfg.Output.Dir = f.out
	}
	if cmd.Flags().Changed("plot") {
		cfg.Output.Plot = f.plot
	}
	if f.analysis != "" {
		cfg.Analysis = f.analysis
	}
	if f.level != "" {
		cfg.LogLevel = f.level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	anp.SetLogger(newLogger(cmd.ErrOrStderr(), level, f.json))
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newRunCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "执行仿真并写出结果",
		Example: `  anacore run -c rc.yaml
  anacore run -c rc.yaml -o ./result --plot svg
  anacore run -c rc.yaml --analysis tran --serve :8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			sim, err := anacore.Simulate(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			a := sim.Analysis()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d 个点，失败 %d 个，结果写入 %s\n",
				a.Kind(), a.LoopSize(), len(a.Failures()), cfg.Output.Dir)
			if f.serve == "" {
				return nil
			}
			anp.Logger.Info("发布图表", "addr", f.serve)
			return http.ListenAndServe(f.serve, http.HandlerFunc(output.Charts{Record: sim.Record}.Handler))
		},
	}
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "输出目录")
	cmd.Flags().StringVar(&f.plot, "plot", "", "图片格式 (png/svg/pdf)，空为不输出")
	cmd.Flags().StringVar(&f.analysis, "analysis", "", "网表有多个分析卡片时选择运行的分析")
	cmd.Flags().StringVar(&f.serve, "serve", "", "仿真结束后在该地址发布图表")
	return cmd
}

func newCheckCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "检查配置与网表，不执行仿真",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			sim, err := anacore.Build(cfg)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "分析: %s", sim.Plan.Kind)
			if sim.Plan.Kind == anp.KindStep {
				fmt.Fprintf(w, " (内层 %s)", sim.Plan.Options.Step.Inner)
			}
			fmt.Fprintf(w, "\n元件: %d\n未知量: %v\n可扫描参数: %v\n",
				len(sim.Plan.Elements), sim.Circuit.Unknowns(), sim.Circuit.Params())
			return nil
		},
	}
	cmd.Flags().StringVar(&f.analysis, "analysis", "", "网表有多个分析卡片时选择运行的分析")
	return cmd
}
