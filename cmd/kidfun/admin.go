package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kidfun/internal/auth"
	"kidfun/internal/core"
	"kidfun/internal/devices"
	"kidfun/internal/idgen"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const adminTimeout = 30 * time.Second

var (
	accountEmail    string
	accountPassword string
	profileAccount  string
	profileName     string
	deviceAccount   string
	deviceProfile   string
	deviceName      string
	deviceID        string
	limitProfile    string
	limitWeekday    string
	limitMinutes    int
	limitGradual    bool
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage parent accounts",
}

var accountAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Create a parent account",
	Example: `  kidfun account add --email parent@example.com --password s3cret`,
	Args:    cobra.NoArgs,
	RunE:    runAccountAdd,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage child profiles",
}

var profileAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Create a child profile",
	Example: `  kidfun profile add --account acc_... --name Alice`,
	Args:    cobra.NoArgs,
	RunE:    runProfileAdd,
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage child devices",
}

var deviceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a device and print its code",
	Long: `Register a device for an account. When --profile is given the device is
bound to that profile and can start sessions straight away.`,
	Example: `  kidfun device add --account acc_... --profile prf_... --name "Alice's laptop"`,
	Args:    cobra.NoArgs,
	RunE:    runDeviceAdd,
}

var deviceUnlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Unbind a device from its profile",
	Long: `Unlink ends the device's active session with reason UNLINK, clears its
profile binding and tells the family channel the device was removed.`,
	Args: cobra.NoArgs,
	RunE: runDeviceUnlink,
}

var limitCmd = &cobra.Command{
	Use:   "limit",
	Short: "Manage daily time limits",
}

var limitSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the daily budget for one weekday",
	Example: `  kidfun limit set --profile prf_... --weekday saturday --minutes 180
  kidfun limit set --profile prf_... --weekday 1 --minutes 60`,
	Args: cobra.NoArgs,
	RunE: runLimitSet,
}

func init() {
	accountAddCmd.Flags().StringVar(&accountEmail, "email", "", "Login email (required)")
	accountAddCmd.Flags().StringVar(&accountPassword, "password", "", "Login password (required)")
	accountAddCmd.MarkFlagRequired("email")
	accountAddCmd.MarkFlagRequired("password")
	accountCmd.AddCommand(accountAddCmd)

	profileAddCmd.Flags().StringVar(&profileAccount, "account", "", "Owning account ID (required)")
	profileAddCmd.Flags().StringVar(&profileName, "name", "", "Child's name (required)")
	profileAddCmd.MarkFlagRequired("account")
	profileAddCmd.MarkFlagRequired("name")
	profileCmd.AddCommand(profileAddCmd)

	deviceAddCmd.Flags().StringVar(&deviceAccount, "account", "", "Owning account ID (required)")
	deviceAddCmd.Flags().StringVar(&deviceProfile, "profile", "", "Profile to bind the device to")
	deviceAddCmd.Flags().StringVar(&deviceName, "name", "", "Device name (required)")
	deviceAddCmd.MarkFlagRequired("account")
	deviceAddCmd.MarkFlagRequired("name")
	deviceUnlinkCmd.Flags().StringVar(&deviceID, "id", "", "Device ID (required)")
	deviceUnlinkCmd.MarkFlagRequired("id")
	deviceCmd.AddCommand(deviceAddCmd)
	deviceCmd.AddCommand(deviceUnlinkCmd)

	limitSetCmd.Flags().StringVar(&limitProfile, "profile", "", "Profile ID (required)")
	limitSetCmd.Flags().StringVar(&limitWeekday, "weekday", "", "Weekday name or number, 0 = Sunday (required)")
	limitSetCmd.Flags().IntVar(&limitMinutes, "minutes", 0, "Daily budget in minutes")
	limitSetCmd.Flags().BoolVar(&limitGradual, "gradual-increase", false, "Mark the limit as gradually increasing")
	limitSetCmd.MarkFlagRequired("profile")
	limitSetCmd.MarkFlagRequired("weekday")
	limitSetCmd.MarkFlagRequired("minutes")
	limitCmd.AddCommand(limitSetCmd)

	rootCmd.AddCommand(accountCmd, profileCmd, deviceCmd, limitCmd)
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	hash, err := auth.HashPassword(accountPassword)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()

	account := &core.Account{
		ID:           idgen.NewAccount(),
		Email:        accountEmail,
		PasswordHash: hash,
	}
	if err := db.CreateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	printCreated("Account", account.ID, "email", account.Email)
	return nil
}

func runProfileAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()

	profile := &core.Profile{
		ID:        idgen.NewProfile(),
		AccountID: profileAccount,
		Name:      profileName,
		Active:    true,
	}
	if err := db.CreateProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	printCreated("Profile", profile.ID, "name", profile.Name)
	return nil
}

func runDeviceAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()

	if deviceProfile != "" {
		profile, err := db.GetProfile(ctx, deviceProfile)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		if profile.AccountID != deviceAccount {
			return fmt.Errorf("profile %s belongs to another account", deviceProfile)
		}
	}

	code, err := idgen.NewDeviceCode()
	if err != nil {
		return fmt.Errorf("failed to generate device code: %w", err)
	}

	device := &core.Device{
		ID:        idgen.NewDevice(),
		AccountID: deviceAccount,
		ProfileID: deviceProfile,
		Name:      deviceName,
		Code:      code,
	}
	if err := db.CreateDevice(ctx, device); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	printCreated("Device", device.ID, "name", device.Name)
	fmt.Print("  Code: ")
	color.New(color.FgYellow, color.Bold).Println(device.Code)
	if device.ProfileID == "" {
		color.New(color.FgHiBlack).Println("  Not bound to a profile yet; sessions are refused until it is.")
	}
	return nil
}

func runDeviceUnlink(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()

	location, err := cfg.Engine.Location()
	if err != nil {
		return err
	}
	clock := core.RealClock{}

	hub, channel, broker, err := openChannel(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer hub.Close()
	defer broker.Close()

	manager := core.NewSessionManager(db, core.ManagerConfig{
		DefaultDailyMinutes: cfg.Engine.DefaultDailyMinutes,
		WarningThresholds:   cfg.Engine.WarningThresholds,
		Location:            location,
		Logger:              logger,
	})

	// No resolver cache lives in this process; running servers expire theirs by TTL
	unlinker := devices.NewUnlinker(db, manager, nil, channel, clock, logger)
	result, err := unlinker.Unlink(ctx, "", deviceID)
	if err != nil {
		return fmt.Errorf("failed to unlink device: %w", err)
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Printf("✓ Device %s unlinked\n", result.Device.ID)
	if result.EndedSession != nil {
		fmt.Printf("  Ended session %s after %d minutes\n",
			result.EndedSession.SessionID, result.EndedSession.TotalElapsedMinutes)
	}
	if !result.Notified {
		color.New(color.FgYellow).Println("  Family channel could not be notified")
	}
	return nil
}

func runLimitSet(cmd *cobra.Command, args []string) error {
	weekday, err := parseWeekday(limitWeekday)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()

	limit := &core.DayLimit{
		ProfileID:       limitProfile,
		Weekday:         weekday,
		DailyMinutes:    limitMinutes,
		GradualIncrease: limitGradual,
	}
	if err := db.UpsertDayLimit(ctx, limit); err != nil {
		return fmt.Errorf("failed to set limit: %w", err)
	}

	color.New(color.FgGreen, color.Bold).Printf("✓ %s limit set to %d minutes\n", weekday, limit.DailyMinutes)
	return nil
}

// parseWeekday accepts "monday", "mon" or 0-6 with 0 = Sunday
func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, core.ErrInvalidWeekday
		}
		return time.Weekday(n), nil
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		name := strings.ToLower(day.String())
		if s == name || (len(s) >= 3 && strings.HasPrefix(name, s)) {
			return day, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", core.ErrInvalidInput, s)
}

func printCreated(kind, id, key, value string) {
	color.New(color.FgGreen, color.Bold).Printf("✓ %s created\n", kind)
	fmt.Printf("  ID:   %s\n", id)
	fmt.Printf("  %s: %s\n", strings.ToUpper(key[:1])+key[1:], value)
}
