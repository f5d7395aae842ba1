package main

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var _ = Describe("config", func() {
	AfterEach(func() {
		viper.Reset()
	})

	Describe("loadEnvFiles", func() {
		It("skips missing files and keeps earlier values", func() {
			dir := GinkgoT().TempDir()
			local := filepath.Join(dir, ".env.local")
			shared := filepath.Join(dir, ".env")
			Expect(os.WriteFile(local, []byte("ALERTNAV_TEST_A=local\n"), 0o600)).To(Succeed())
			Expect(os.WriteFile(shared, []byte("ALERTNAV_TEST_A=shared\nALERTNAV_TEST_B=shared\n"), 0o600)).To(Succeed())
			DeferCleanup(func() {
				_ = os.Unsetenv("ALERTNAV_TEST_A")
				_ = os.Unsetenv("ALERTNAV_TEST_B")
			})

			Expect(loadEnvFiles(filepath.Join(dir, "missing.env"), local, shared)).To(Succeed())
			Expect(os.Getenv("ALERTNAV_TEST_A")).To(Equal("local"))
			Expect(os.Getenv("ALERTNAV_TEST_B")).To(Equal("shared"))
		})

		It("reports unreadable files", func() {
			dir := GinkgoT().TempDir()
			Expect(loadEnvFiles(dir)).To(MatchError(ContainSubstring("failed to load")))
		})
	})

	Describe("InitConfig", func() {
		It("reads a config file and lets the environment override it", func() {
			dir := GinkgoT().TempDir()
			file := filepath.Join(dir, "config.yaml")
			Expect(os.WriteFile(file, []byte("db:\n  host: db.internal\n  port: 6543\nserver:\n  data:\n    scope: all\n"), 0o600)).To(Succeed())
			GinkgoT().Setenv("ALERTNAV_DB_HOST", "db.override")

			Expect(InitConfig(file)).To(Succeed())
			Expect(viper.GetString("db.host")).To(Equal("db.override"))
			Expect(viper.GetInt("db.port")).To(Equal(6543))
			Expect(viper.GetString("server.data.scope")).To(Equal("all"))
			Expect(viper.GetInt("server.map.zoom")).To(Equal(13))
		})

		It("fails on a malformed config file", func() {
			file := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(file, []byte("db: [unterminated\n"), 0o600)).To(Succeed())
			Expect(InitConfig(file)).To(MatchError(ContainSubstring("failed to read config file")))
		})
	})

	Describe("bindFlags", func() {
		It("binds only the flags of the command being run", func() {
			cmd := &cobra.Command{Use: "test"}
			addDBFlags(cmd)
			Expect(cmd.Flags().Set("db-host", "flag.host")).To(Succeed())

			Expect(bindFlags(dbFlagBindings)(cmd, nil)).To(Succeed())
			Expect(viper.GetString("db.host")).To(Equal("flag.host"))
			Expect(viper.GetString("db.name")).To(Equal("alertnav"))
		})

		It("rejects a binding to a missing flag", func() {
			cmd := &cobra.Command{Use: "test"}
			err := bindFlags(map[string]string{"x.y": "nope"})(cmd, nil)
			Expect(err).To(MatchError(ContainSubstring("nope")))
		})
	})

	Describe("dbConfig", func() {
		It("maps viper keys onto the store configuration", func() {
			viper.Set("db.host", "h")
			viper.Set("db.port", 1234)
			viper.Set("db.user", "u")
			viper.Set("db.name", "n")
			viper.Set("db.auto_migrate", true)

			cfg := dbConfig(GetLogger())
			Expect(cfg.Host).To(Equal("h"))
			Expect(cfg.Port).To(Equal(1234))
			Expect(cfg.User).To(Equal("u"))
			Expect(cfg.DBName).To(Equal("n"))
			Expect(cfg.AutoMigrate).To(BeTrue())
			Expect(cfg.Logger).NotTo(BeNil())
		})
	})

	Describe("sessionKey", func() {
		It("decodes hex keys", func() {
			viper.Set("session.hash_key", "00ff10")
			Expect(sessionKey("session.hash_key")).To(Equal([]byte{0x00, 0xff, 0x10}))
		})

		It("returns nil when unset", func() {
			Expect(sessionKey("session.block_key")).To(BeNil())
		})

		It("rejects non-hex keys", func() {
			viper.Set("session.hash_key", "not-hex")
			_, err := sessionKey("session.hash_key")
			Expect(err).To(MatchError(ContainSubstring("hex")))
		})
	})

	Describe("newSessionStore", func() {
		It("builds a cookie store with a generated key", func() {
			s, closeFn, err := newSessionStore(GetLogger())
			Expect(err).NotTo(HaveOccurred())
			Expect(s).NotTo(BeNil())
			closeFn()
		})

		It("rejects an unknown backend", func() {
			viper.Set("session.store", "memcached")
			_, _, err := newSessionStore(GetLogger())
			Expect(err).To(MatchError(ContainSubstring("unknown session store")))
		})

		It("rejects a short hash key", func() {
			viper.Set("session.hash_key", "0011")
			_, _, err := newSessionStore(GetLogger())
			Expect(err).To(MatchError(ContainSubstring("32 or 64 bytes")))
		})
	})
})
