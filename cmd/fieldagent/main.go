package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-jwt/jwt/v5"

	"fieldattend/internal/attendance"
	"fieldattend/internal/attendanceclient"
	"fieldattend/internal/auth"
	"fieldattend/internal/camera"
	"fieldattend/internal/config"
	"fieldattend/internal/gate"
	"fieldattend/internal/location"
	"fieldattend/internal/notify"
	"fieldattend/internal/store"
	"fieldattend/internal/submit"
)

// fieldagent marks today's attendance with a photo and the current location.
func main() {
	photoPath := flag.String("photo", "", "image file to submit instead of the camera")
	useCamera := flag.Bool("camera", false, "capture the photo from the configured camera")
	preview := flag.String("preview", "", "write a framing preview JPEG here before capturing")
	statusOnly := flag.Bool("status", false, "only report whether attendance is already marked")
	flag.Parse()

	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := attendanceclient.New(cfg.APIBaseURL, cfg.Token, cfg.Timeout)
	geocoder := location.NewCachedGeocoder(location.NewNominatim(cfg.GeocoderURL, cfg.GeocoderUserAgent), cfg.GeocodeCacheTTL)
	resolver := location.NewResolver(locationProvider(cfg), geocoder, cfg.LocationTimeout)

	notifier := notify.Multi{notify.Log{}}
	if rdb := store.NewRedis(cfg.RedisAddr); rdb != nil {
		defer rdb.Close()
		notifier = append(notifier, notify.NewRedis(rdb.Client, cfg.NotifyChannel))
	}

	opts := gate.Options{
		Status:     client,
		Locator:    resolver,
		Submitter:  submit.New(client),
		Notifier:   notifier,
		EmployeeID: subject(cfg.Token),
		OnChange: func(v gate.View) {
			log.Printf("state: %s", v.State)
		},
	}
	var session *camera.Session
	if cfg.CameraStill != "" {
		session = camera.NewSession(camera.NewStillProvider(cfg.CameraStill), camera.Constraints{
			FacingMode: cfg.FacingMode,
			Width:      cfg.CameraWidth,
			Height:     cfg.CameraHeight,
		})
		opts.Camera = session
	}

	g := gate.New(opts)
	defer g.Teardown()

	if err := g.Mount(ctx); err != nil {
		log.Printf("status check failed: %v", err)
	}
	if v := g.View(); v.Terminal() {
		printRecord(v.Record)
		return
	}
	if *statusOnly {
		fmt.Println("Attendance not marked today")
		return
	}

	switch {
	case *photoPath != "":
		if err := useFile(g, *photoPath); err != nil {
			fail(g, err)
		}
	case *useCamera:
		if err := g.StartCamera(ctx); err != nil {
			fail(g, fmt.Errorf("%w (pass -photo to upload a file)", err))
		}
		if *preview != "" {
			if err := session.BindSink(ctx, camera.FileSink{Path: *preview}); err != nil {
				log.Printf("preview: %v", err)
			}
		}
		if err := g.CapturePhoto(); err != nil {
			fail(g, err)
		}
	default:
		log.Fatalf("pass -photo <file> or -camera")
	}

	rec, err := g.Submit(ctx)
	if err != nil {
		fail(g, err)
	}
	printRecord(rec)
}

func locationProvider(cfg config.Agent) location.Provider {
	switch {
	case cfg.LocationURL != "":
		return location.NewHTTPProvider(cfg.LocationURL)
	case cfg.HasStaticFix:
		return location.StaticProvider{Latitude: cfg.StaticLatitude, Longitude: cfg.StaticLongitude, Accuracy: cfg.StaticAccuracy}
	}
	return nil
}

func useFile(g *gate.Gate, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return g.UsePhotoFile(info.Name(), info.Size(), f)
}

// subject reads the employee id from the token without verifying it; the
// API does the verification.
func subject(token string) string {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

func printRecord(rec *attendance.Record) {
	if rec == nil {
		return
	}
	fmt.Printf("Attendance marked for %s at %s (%s)\n", rec.AttendanceDate, rec.Time, rec.Status)
	fmt.Printf("Location: %s\n", rec.Location)
}

func fail(g *gate.Gate, err error) {
	msg := g.View().Message
	if msg == "" {
		msg = err.Error()
	}
	g.Teardown()
	log.Fatalf("%s", msg)
}
