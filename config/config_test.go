package config_test

import (
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/site-monitor/config"
)

const validYAML = `
server:
  address: ":3399"
  environment: "dev"
  shutdown_password: "letmein"

logging:
  level: "info"

probe:
  timeout: "7s"

storage:
  backends: ["sqlite"]
  sqlite:
    path: "/tmp/monitor.db"

sites:
  - name: "games"
    url: "https://www.example.com/"
    expected_token: "enginesis"
    sample_interval: 30
    alert_load_time: 1.5
    alert_threshold: 4
    alert_emails: ["ops@example.com"]
  - name: "blog"
    url: "http://blog.example.com"
    alert_load_time: 2
    active: false
`

func setenv(key, value string) {
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(os.Unsetenv, key)
}

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configPath string
		envPath    string
	)

	writeConfig := func(content string) {
		Expect(os.WriteFile(configPath, []byte(content), 0o644)).To(Succeed())
	}

	load := func(extra ...string) (*config.Config, error) {
		args := append([]string{"--config", configPath, "--env-file", envPath}, extra...)
		loader, err := config.NewLoader(args)
		Expect(err).NotTo(HaveOccurred())
		return loader.Load()
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
		configPath = filepath.Join(tempDir, "config.yaml")
		envPath = filepath.Join(tempDir, ".env")
	})

	Describe("Load", func() {
		Context("with a valid config file", func() {
			BeforeEach(func() {
				writeConfig(validYAML)
			})

			It("should load configuration successfully", func() {
				cfg, err := load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.ShutdownPassword).To(Equal("letmein"))
				Expect(cfg.Probe.TimeoutDuration()).To(Equal(7 * time.Second))
				Expect(cfg.Storage.Uses(config.BackendSQLite)).To(BeTrue())
				Expect(cfg.Storage.Uses(config.BackendMySQL)).To(BeFalse())
			})

			It("should apply defaults", func() {
				cfg, err := load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Probe.MaxBodyBytes).To(Equal(int64(1 << 20)))
				Expect(cfg.Storage.WriteTimeoutDuration()).To(Equal(5 * time.Second))
				Expect(cfg.Storage.BreakerThreshold).To(Equal(5))
				Expect(cfg.Sites[1].SampleInterval).To(Equal(config.DefaultSampleInterval))
				Expect(cfg.Sites[1].AlertThreshold).To(Equal(config.DefaultAlertThreshold))
			})

			It("should convert sites", func() {
				cfg, err := load()
				Expect(err).NotTo(HaveOccurred())

				sites := cfg.SiteConfigs()
				Expect(sites).To(HaveLen(2))
				Expect(sites[0].Name).To(Equal("games"))
				Expect(sites[0].SampleInterval).To(Equal(30 * time.Second))
				Expect(sites[0].AlertLoadTime).To(Equal(1500 * time.Millisecond))
				Expect(sites[0].AlertThreshold).To(Equal(4))
				Expect(sites[0].Active).To(BeTrue())
				Expect(sites[0].AlertEmails).To(Equal([]string{"ops@example.com"}))
				Expect(sites[1].Active).To(BeFalse())
				Expect(sites[1].SampleInterval).To(Equal(time.Minute))
			})

			It("should let environment variables override the file", func() {
				setenv("SERVER_ADDRESS", ":9000")
				setenv("LOGGING_LEVEL", "debug")

				cfg, err := load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":9000"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
			})

			It("should let flags override the file", func() {
				cfg, err := load("--address", "127.0.0.1:4000", "--dbname", "monitor", "--verbose")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal("127.0.0.1:4000"))
				Expect(cfg.Storage.MySQL.Database).To(Equal("monitor"))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelDebug))
			})

			It("should let DB_ variables override flags", func() {
				setenv("DB_HOST", "db.internal")
				setenv("DB_PORT", "3307")

				cfg, err := load("--dbhost", "flag-host", "--dbuser", "flag-user")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Storage.MySQL.Host).To(Equal("db.internal"))
				Expect(cfg.Storage.MySQL.Port).To(Equal(3307))
				Expect(cfg.Storage.MySQL.User).To(Equal("flag-user"))
			})

			It("should read the .env file", func() {
				Expect(os.WriteFile(envPath, []byte("DB_USER=envfile-user\n"), 0o600)).To(Succeed())
				DeferCleanup(os.Unsetenv, "DB_USER")

				cfg, err := load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Storage.MySQL.User).To(Equal("envfile-user"))
			})
		})

		It("should fall back to defaults without a config file", func() {
			wd, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tempDir)).To(Succeed())
			DeferCleanup(os.Chdir, wd)

			loader, err := config.NewLoader([]string{"--env-file", envPath})
			Expect(err).NotTo(HaveOccurred())

			cfg, err := loader.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Address).To(Equal(":3399"))
			Expect(cfg.Sites).To(BeEmpty())
		})

		It("should reject an unreadable config file", func() {
			writeConfig("server: [unclosed")
			_, err := load()
			Expect(err).To(HaveOccurred())
		})

		It("should reject unknown flags", func() {
			_, err := config.NewLoader([]string{"--nope"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Validate", func() {
		var cfg *config.Config

		BeforeEach(func() {
			writeConfig(validYAML)
			var err error
			cfg, err = load()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should accept the loaded config", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		DescribeTable("invalid configurations",
			func(mutate func(*config.Config), field string) {
				mutate(cfg)
				err := cfg.Validate()
				Expect(err).To(HaveOccurred())

				errs, ok := err.(validation.Errors)
				Expect(ok).To(BeTrue())
				Expect(errs).To(HaveKey(field))
			},
			Entry("unknown environment", func(c *config.Config) { c.Server.Environment = "qa" }, "Server"),
			Entry("bad address", func(c *config.Config) { c.Server.Address = "invalid:host:port" }, "Server"),
			Entry("unknown log level", func(c *config.Config) { c.Logging.Level = "trace" }, "Logging"),
			Entry("bad probe timeout", func(c *config.Config) { c.Probe.Timeout = "soon" }, "Probe"),
			Entry("unknown backend", func(c *config.Config) { c.Storage.Backends = []string{"cassandra"} }, "Storage"),
			Entry("sqlite without path", func(c *config.Config) { c.Storage.SQLite.Path = "" }, "Storage"),
			Entry("mysql without user", func(c *config.Config) {
				c.Storage.Backends = []string{"mysql"}
				c.Storage.MySQL.User = ""
			}, "Storage"),
			Entry("mongodb without uri", func(c *config.Config) {
				c.Storage.Backends = []string{"mongodb"}
				c.Storage.MongoDB.URI = ""
			}, "Storage"),
			Entry("postgres without url", func(c *config.Config) {
				c.Storage.Backends = []string{"postgres"}
				c.Storage.Postgres.URL = ""
			}, "Storage"),
			Entry("smtp without sender", func(c *config.Config) { c.SMTP.Host = "smtp.example.com" }, "SMTP"),
			Entry("duplicate site", func(c *config.Config) { c.Sites[1].Name = "games" }, "Sites"),
			Entry("site name with line break", func(c *config.Config) { c.Sites[0].Name = "games\r\nBcc: x@example.com" }, "Sites"),
			Entry("site without url", func(c *config.Config) { c.Sites[0].URL = "" }, "Sites"),
			Entry("site with ftp url", func(c *config.Config) { c.Sites[0].URL = "ftp://example.com" }, "Sites"),
			Entry("negative interval", func(c *config.Config) { c.Sites[0].SampleInterval = -1 }, "Sites"),
			Entry("no load time", func(c *config.Config) { c.Sites[0].AlertLoadTime = 0 }, "Sites"),
			Entry("bad alert email", func(c *config.Config) { c.Sites[0].AlertEmails = []string{"not-an-email"} }, "Sites"),
		)

		It("should accept mysql with only a DSN", func() {
			cfg.Storage.Backends = []string{"mysql"}
			cfg.Storage.MySQL = config.MySQLConfig{DSN: "user:pass@tcp(db:3306)/monitor"}
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should accept a complete smtp block", func() {
			cfg.SMTP = config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "monitor@example.com"}
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Describe("Watch", func() {
		It("should deliver reloaded configuration", func() {
			writeConfig(validYAML)
			loader, err := config.NewLoader([]string{"--config", configPath, "--env-file", envPath})
			Expect(err).NotTo(HaveOccurred())
			_, err = loader.Load()
			Expect(err).NotTo(HaveOccurred())

			changes := make(chan *config.Config, 10)
			loader.Watch(func(cfg *config.Config, err error) {
				if err == nil {
					changes <- cfg
				}
			})

			writeConfig(validYAML + `
  - name: "shop"
    url: "https://shop.example.com"
    alert_load_time: 3
`)

			var reloaded *config.Config
			Eventually(changes).WithTimeout(5 * time.Second).Should(Receive(&reloaded))
			Expect(reloaded.Sites).To(HaveLen(3))
		})
	})
})
