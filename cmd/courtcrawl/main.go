package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/core"
	"github.com/RecoveryAshes/courtcrawl/internal/crawlers"
	"github.com/RecoveryAshes/courtcrawl/internal/models"
	"github.com/RecoveryAshes/courtcrawl/internal/storage"
	"github.com/RecoveryAshes/courtcrawl/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string
	headers    []string
	headless   bool
	outputDir  string
	format     string
	jsonOutput bool

	// 姓名
	surname    string
	firstName  string
	patronymic string

	// crawl / detect
	targetURL string

	// batch
	batchFile       string
	urlFile         string
	concurrency     int
	continueOnError bool
	noProgress      bool

	// show
	jobID     string
	listLimit int
)

// appConfig 在 PersistentPreRunE 中加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "courtcrawl",
	Short: "法院门户案件检索工具",
	Long: `courtcrawl - 俄罗斯法院门户网站的自动化案件检索工具

按姓名的多个书写变体检索法院网站, 收集各案件类别的结果表格:
  • 自动识别网站模板 (sudrf 常规/旧版/多服务器, 治安法官门户, 地区门户)
  • 自动识别验证码
  • 批量作业与并发控制
  • 结果保存到 SQLite, 报告输出为 JSON 或 Markdown

示例:
  courtcrawl crawl -u https://leninsky--spb.sudrf.ru/ --surname Иванов --name Иван
  courtcrawl batch -f jobs.yaml --concurrency 4
  courtcrawl detect -u https://mirsud.spb.ru/
  courtcrawl show --id <作业ID>

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		h := config.Browser.Headless
		if cmd.Flags().Changed("headless") {
			h = headless
		}
		config.MergeCLIFlags(h, concurrency, outputDir, format)
		if cmd.Flags().Changed("continue-on-error") {
			config.Batch.ContinueOnError = continueOnError
		}
		if err := config.Validate(); err != nil {
			return err
		}
		appConfig = config

		logConfig := config.LogConfig()
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}
		// JSON输出到stdout时控制台日志会干扰管道
		logConfig.NoConsole = jsonOutput
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		utils.Debug("详细模式已启用")
		return nil
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "检索单个法院网站",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateCrawlFlags(targetURL, surname); err != nil {
			return err
		}
		person, err := models.NewPersonQuery(surname, firstName, patronymic)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		report, err := runBatch(ctx, []core.JobRequest{{Address: targetURL, Person: person}}, false)
		if report == nil {
			return err
		}

		jr := report.Jobs[0]
		if jsonOutput {
			if perr := printJSON(jr); perr != nil {
				return perr
			}
		} else {
			printJobStats(jr.Job)
		}
		if err != nil {
			return err
		}
		if jr.Job.Status != models.JobStatusCompleted {
			return fmt.Errorf("检索未完成: %s", jr.Job.ErrorMessage)
		}
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "批量检索",
	Long: `批量检索多个 (地址, 姓名) 组合.

作业来源二选一:
  -f jobs.yaml     YAML批量任务文件 (person + courts, 或 jobs 列表)
  --url-file a.txt 每行一个地址, 姓名由 --surname/--name/--patronymic 指定`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateBatchFlags(batchFile, urlFile, surname, appConfig.Batch.Concurrency); err != nil {
			return err
		}
		reqs, err := loadRequests()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		report, err := runBatch(ctx, reqs, !noProgress && !jsonOutput)
		if report != nil && jsonOutput {
			if perr := printJSON(report); perr != nil {
				return perr
			}
		}
		if err != nil {
			return fmt.Errorf("批量检索失败: %w", err)
		}
		utils.Info("✨ 批量检索完成!")
		return nil
	},
}

var detectCmd = &cobra.Command{
	Use:     "detect",
	Aliases: []string{"verify"},
	Short:   "识别法院网站模板, 不执行检索",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateURL(targetURL); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		deps, err := buildDeps()
		if err != nil {
			return err
		}

		info := core.DetectCourt(ctx, targetURL, deps)
		if jsonOutput {
			return printJSON(info)
		}
		if !info.Supported {
			fmt.Printf("❌ %s: %s\n", info.Address, info.Error)
			return nil
		}
		fmt.Printf("✅ %s\n", info.Name)
		fmt.Printf("   地址: %s\n", info.Address)
		fmt.Printf("   模板: %s\n", info.Flavor)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "查看已保存的作业",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(appConfig.Output.DB)
		if err != nil {
			return err
		}
		defer store.Close()
		ctx := context.Background()

		if jobID == "" {
			jobs, err := store.ListJobs(ctx, listLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(jobs)
			}
			for _, j := range jobs {
				fmt.Printf("%s  %s  %-10s %-12s %s\n", j.CreatedAt.Format(time.DateTime), j.ID, j.Status, j.Flavor, j.Address)
			}
			return nil
		}

		job, tree, err := store.LoadJob(ctx, jobID)
		if err != nil {
			return err
		}
		if jsonOutput || appConfig.Output.Format == "json" {
			return printJSON(models.JobReport{Job: job, Result: tree})
		}
		md, err := core.RenderMarkdown(job, tree)
		if err != nil {
			return err
		}
		fmt.Print(md)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "check-config",
	Short: "验证配置文件和HTTP头部",
	RunE: func(cmd *cobra.Command, args []string) error {
		utils.Info("🔍 验证配置...")
		hm, err := core.NewHeaderManager(appConfig.Browser.Headers, headers)
		if err != nil {
			return err
		}
		if err := hm.Validate(); err != nil {
			return fmt.Errorf("配置验证失败: %w", err)
		}

		safeHeaders := hm.GetSafeHeaders()
		utils.Info("✅ 配置验证通过!")
		utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
		for name, value := range safeHeaders {
			utils.Infof("  %s: %s", name, value)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("courtcrawl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// signalContext 收到 Ctrl+C / SIGTERM 时取消上下文. 已开始的作业会继续到结束.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			utils.Warnf("收到中断信号: %v, 等待进行中的作业结束...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// buildDeps 根据全局配置创建浏览器与作业依赖
func buildDeps() (core.Deps, error) {
	hm, err := core.NewHeaderManager(appConfig.Browser.Headers, headers)
	if err != nil {
		return core.Deps{}, fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	if err := hm.Validate(); err != nil {
		return core.Deps{}, err
	}
	utils.Debugf("HTTP头部: %v", hm.GetSafeHeaders())

	launcher := crawlers.NewRodLauncher(appConfig.BrowserOptions(hm))
	return appConfig.NewDeps(launcher, hm), nil
}

// runBatch 运行作业并保存结果与报告
func runBatch(ctx context.Context, reqs []core.JobRequest, showBar bool) (*models.BatchReport, error) {
	deps, err := buildDeps()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(appConfig.Output.DB)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	monitor := crawlers.NewResourceMonitor(appConfig.ResourceMonitorConfig())
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go monitor.Run(monitorCtx, 5*time.Second)

	runner := core.NewBatchRunner(deps,
		core.WithConcurrency(appConfig.Batch.Concurrency),
		core.WithTimeouts(appConfig.Batch.SoftTimeout, appConfig.Batch.HardTimeout),
		core.WithContinueOnError(appConfig.Batch.ContinueOnError),
		core.WithResourceMonitor(monitor),
		core.WithStore(store),
		core.WithProgress(utils.LogSink{}),
		core.WithProgressBar(showBar),
	)

	report, runErr := runner.Run(ctx, reqs)
	if report == nil {
		return nil, runErr
	}

	reporter := core.NewReporter(appConfig.Output.Dir, appConfig.Output.Format)
	for _, jr := range report.Jobs {
		if jr.Job == nil {
			continue
		}
		if _, err := reporter.WriteJob(jr.Job, jr.Result); err != nil {
			utils.Errorf("保存作业报告失败 %s: %v", jr.Job.ID, err)
		}
	}
	if len(reqs) > 1 {
		if _, err := reporter.WriteBatch(report); err != nil {
			utils.Errorf("保存批量报告失败: %v", err)
		}
	}
	return report, runErr
}

// loadRequests 从批量任务文件或地址文件生成作业
func loadRequests() ([]core.JobRequest, error) {
	if batchFile != "" {
		entries, err := utils.LoadBatchFile(batchFile)
		if err != nil {
			return nil, err
		}
		reqs := make([]core.JobRequest, 0, len(entries))
		for _, e := range entries {
			reqs = append(reqs, core.JobRequest{Address: e.Address, Person: e.Person})
		}
		return reqs, nil
	}

	person, err := models.NewPersonQuery(surname, firstName, patronymic)
	if err != nil {
		return nil, err
	}
	addresses, err := utils.ReadAddressesFromFile(urlFile)
	if err != nil {
		return nil, err
	}
	reqs := make([]core.JobRequest, 0, len(addresses))
	for _, a := range addresses {
		reqs = append(reqs, core.JobRequest{Address: a, Person: person})
	}
	return reqs, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printJobStats(job *models.CrawlJob) {
	stats := job.Stats
	fmt.Println("\n==================================================")
	fmt.Println("📊 检索统计")
	fmt.Println("==================================================")
	fmt.Printf("🏛  法院: %s (%s)\n", job.Court, job.Flavor)
	fmt.Printf("📌 状态: %s\n", job.Status)
	if job.ErrorMessage != "" {
		fmt.Printf("❌ 错误: %s\n", job.ErrorMessage)
	}
	fmt.Printf("✅ 姓名变体: %d\n", stats.Variants)
	fmt.Printf("✅ 类别/子类别: %d/%d\n", stats.Categories, stats.Subcategories)
	fmt.Printf("✅ 结果表格: %d (空 %d)\n", stats.Tables, stats.Empty)
	fmt.Printf("⚠️  跳过: %d, 错误: %d\n", stats.Skipped, stats.Errors)
	fmt.Printf("📄 页数: %d\n", stats.Pages)
	fmt.Printf("⏱️  总耗时: %.2f秒\n", job.Duration)
	fmt.Printf("🆔 作业ID: %s\n", job.ID)
	fmt.Println("==================================================")
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "报告输出目录")
	rootCmd.PersistentFlags().StringVar(&format, "format", "", "报告格式 (json|markdown)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "结果以JSON输出到stdout")

	for _, cmd := range []*cobra.Command{crawlCmd, batchCmd} {
		cmd.Flags().StringVar(&surname, "surname", "", "姓")
		cmd.Flags().StringVar(&firstName, "name", "", "名")
		cmd.Flags().StringVar(&patronymic, "patronymic", "", "父称")
	}

	crawlCmd.Flags().StringVarP(&targetURL, "url", "u", "", "法院网站地址")
	detectCmd.Flags().StringVarP(&targetURL, "url", "u", "", "法院网站地址")

	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "YAML批量任务文件")
	batchCmd.Flags().StringVar(&urlFile, "url-file", "", "地址列表文件")
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "并发作业数 (默认读取配置)")
	batchCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "作业失败时继续处理")
	batchCmd.Flags().BoolVar(&noProgress, "no-progress", false, "不显示进度条")

	showCmd.Flags().StringVar(&jobID, "id", "", "作业ID, 为空时列出最近的作业")
	showCmd.Flags().IntVar(&listLimit, "limit", 20, "列出的作业数")

	rootCmd.AddCommand(crawlCmd, batchCmd, detectCmd, showCmd, configCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
