package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ricardorosenberg/tikun/internal/api"
	"github.com/ricardorosenberg/tikun/internal/audio"
	"github.com/ricardorosenberg/tikun/internal/session"
)

func runTrain(a *app, args []string) error {
	fs := newFlagSet("train", "-sound id -label positive|negative|similar [-input clip.wav] [-device name]")
	soundID := fs.String("sound", "", "Sound id the clip belongs to")
	label := fs.String("label", "", "Training label: positive, negative or similar")
	input := fs.String("input", "", "Upload this WAV clip instead of recording one")
	device := fs.String("device", a.cfg.Audio.Device, "Capture device used for recording")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "sound", "label"); err != nil {
		return err
	}
	if err := api.ValidateLabel(*label); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := a.newSource(*device, false)
	if err != nil {
		return err
	}

	trainer := session.NewTrainer(session.TrainerConfig{
		SampleRate:    a.cfg.Audio.SampleRate,
		WindowSeconds: a.cfg.Audio.WindowSeconds,
		UploadTimeout: a.cfg.API.GetTimeoutDuration(),
	}, *soundID, source, a.client, a.metrics, a.logger)
	trainer.Open()

	var sample *api.TrainingSample
	if *input != "" {
		clip, err := os.ReadFile(*input)
		if err != nil {
			return fmt.Errorf("failed to read clip: %w", err)
		}
		sample, err = trainer.SubmitClip(ctx, clip, *label)
		if err != nil {
			return err
		}
	} else {
		fmt.Fprintln(os.Stderr, session.StatusTrainRecording)
		if _, err := trainer.Record(ctx); err != nil {
			return err
		}
		sample, err = trainer.Submit(ctx, *label)
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(os.Stderr, session.StatusTrainSaved)

	// let the background rebuild finish before exiting
	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.API.GetTimeoutDuration())
	defer cancel()
	if err := trainer.Wait(waitCtx); err != nil {
		a.logger.Warn("Classifier rebuild still running", slog.String("error", err.Error()))
	}

	return printJSON(sample)
}

func runSounds(a *app, args []string) error {
	action := "list"
	if len(args) > 0 {
		action, args = args[0], args[1:]
	}

	ctx := context.Background()

	switch action {
	case "list":
		sounds, err := a.client.ListSounds(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSENSITIVITY\tACTIVE")
		for _, s := range sounds {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%t\n", s.ID, s.Name, s.Sensitivity, s.Active)
		}
		return w.Flush()

	case "add":
		fs := newFlagSet("sounds add", "-name name [-description text] [-icon icon] [-sensitivity 0.6]")
		name := fs.String("name", "", "Sound name")
		description := fs.String("description", "", "Sound description")
		icon := fs.String("icon", "", "Icon name")
		sensitivity := fs.Float64("sensitivity", api.DefaultSensitivity, "Detection sensitivity")
		if err := parse(fs, args); err != nil {
			return err
		}
		if err := required(fs, "name"); err != nil {
			return err
		}

		create := api.SoundCreate{Name: *name, Description: *description, Icon: *icon}
		if isSet(fs, "sensitivity") {
			create.Sensitivity = sensitivity
		}

		sound, err := a.client.CreateSound(ctx, create)
		if err != nil {
			return err
		}
		return printJSON(sound)

	case "set":
		fs := newFlagSet("sounds set", "-id id [-name name] [-description text] [-icon icon] [-sensitivity s] [-active=true|false]")
		id := fs.String("id", "", "Sound id")
		name := fs.String("name", "", "New name")
		description := fs.String("description", "", "New description")
		icon := fs.String("icon", "", "New icon")
		sensitivity := fs.Float64("sensitivity", 0, "New sensitivity")
		active := fs.Bool("active", true, "Whether the sound is detected")
		if err := parse(fs, args); err != nil {
			return err
		}
		if err := required(fs, "id"); err != nil {
			return err
		}

		// only flags given on the command line are sent
		var update api.SoundUpdate
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "name":
				update.Name = name
			case "description":
				update.Description = description
			case "icon":
				update.Icon = icon
			case "sensitivity":
				update.Sensitivity = sensitivity
			case "active":
				update.Active = active
			}
		})

		sound, err := a.client.UpdateSound(ctx, *id, update)
		if err != nil {
			return err
		}
		return printJSON(sound)

	case "rm":
		fs := newFlagSet("sounds rm", "-id id")
		id := fs.String("id", "", "Sound id")
		if err := parse(fs, args); err != nil {
			return err
		}
		if err := required(fs, "id"); err != nil {
			return err
		}
		return a.client.DeleteSound(ctx, *id)

	default:
		fmt.Fprintf(os.Stderr, "Unknown sounds action %q: want list, add, set or rm\n", action)
		return errUsage
	}
}

func runDetections(a *app, args []string) error {
	fs := newFlagSet("detections", "[-json]")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	if err := parse(fs, args); err != nil {
		return err
	}

	detections, err := a.client.ListDetections(context.Background())
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(detections)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSOUND\tCONFIDENCE")
	for _, d := range detections {
		fmt.Fprintf(w, "%s\t%s\t%.2f\n", d.CreatedAt, d.SoundID, d.Confidence)
	}
	return w.Flush()
}

func runSignUp(a *app, args []string) error {
	fs := newFlagSet("signup", "-email address [-password secret]")
	email, password := credentialFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}

	if err := a.auth.SignUp(context.Background(), *email, passwordOrEnv(*password)); err != nil {
		return err
	}
	fmt.Printf("Account created for %s\n", *email)
	return nil
}

func runLogin(a *app, args []string) error {
	fs := newFlagSet("login", "-email address [-password secret]")
	email, password := credentialFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}

	if err := a.auth.SignIn(context.Background(), *email, passwordOrEnv(*password)); err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n", *email)
	return nil
}

func runLogout(a *app, args []string) error {
	if err := a.auth.SignOut(); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runForgot(a *app, args []string) error {
	fs := newFlagSet("forgot", "-email address")
	email := fs.String("email", "", "Account email")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "email"); err != nil {
		return err
	}

	if err := a.auth.RequestPasswordReset(context.Background(), *email); err != nil {
		return err
	}
	fmt.Println("If the account exists, a reset email is on its way")
	return nil
}

func runReset(a *app, args []string) error {
	fs := newFlagSet("reset", "-token token [-password secret]")
	token := fs.String("token", "", "Reset token from the email")
	password := fs.String("password", "", "New password (or TIKUN_PASSWORD)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "token"); err != nil {
		return err
	}

	if err := a.auth.ResetPassword(context.Background(), *token, passwordOrEnv(*password)); err != nil {
		return err
	}
	fmt.Println("Password updated")
	return nil
}

func runVerify(a *app, args []string) error {
	fs := newFlagSet("verify", "-token token")
	token := fs.String("token", "", "Verification token from the email")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "token"); err != nil {
		return err
	}

	if err := a.auth.VerifyEmail(context.Background(), *token); err != nil {
		return err
	}
	fmt.Println("Email verified")
	return nil
}

func runClip(a *app, args []string) error {
	fs := newFlagSet("clip", "-input clip.wav")
	input := fs.String("input", "", "WAV file to inspect")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "input"); err != nil {
		return err
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		return fmt.Errorf("failed to read clip: %w", err)
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func credentialFlags(fs *flag.FlagSet) (*string, *string) {
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Account password (or TIKUN_PASSWORD)")
	return email, password
}

func passwordOrEnv(password string) string {
	if password != "" {
		return password
	}
	return os.Getenv("TIKUN_PASSWORD")
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
