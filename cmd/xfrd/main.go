/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nlnetlabs/xfrd/xfrd"
)

var appVersion string = "0.1.0"

// mainloop blocks until a terminating signal or the coordinator itself
// decides to stop, the same signal-dispatcher shape as tdnsd/main.go's
// mainloop (SIGINT/SIGTERM trigger a clean exit; SIGHUP here forces a
// refresh of every zone rather than a full config reload, since xfrd has no
// config sections that change shape at runtime).
func mainloop(cancel context.CancelFunc, coord *xfrd.Coordinator, reg *xfrd.Registry) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-exit:
				log.Println("mainloop: exit signal received, shutting down")
				cancel()
				return
			case <-hup:
				log.Println("mainloop: SIGHUP received, forcing refresh of all configured zones")
				for _, zd := range reg.All() {
					if err := coord.ForceRefresh(zd.ApexStr); err != nil {
						log.Printf("mainloop: force-refresh %s: %v", zd.ApexStr, err)
					}
				}
			}
		}
	}()
	wg.Wait()
}

func main() {
	cfgfile := flag.String("config", xfrd.DefaultCfgFile, "path to the xfrd config file")
	zonesfile := flag.String("zones", xfrd.DefaultZonesFile, "path to the zones file")
	ipcFdFlag := flag.Int("ipc-fd", -1, "inherited file descriptor for parent-process IPC (omit to run standalone)")
	flag.Parse()

	conf, err := xfrd.ParseConfig(*cfgfile)
	if err != nil {
		log.Fatalf("Error parsing config %q: %v", *cfgfile, err)
	}
	conf.Internal.ZonesCfgFile = *zonesfile
	conf.Internal.StartTime = time.Now()

	if err := xfrd.SetupLogging(conf.Log.File); err != nil {
		log.Fatalf("Error setting up logging: %v", err)
	}
	fmt.Printf("xfrd version %s starting, logging to %q\n", appVersion, conf.Log.File)

	if err := xfrd.ValidateConfig(conf, *cfgfile); err != nil {
		log.Fatalf("Config %q is missing required attributes: %v", *cfgfile, err)
	}

	zones, err := xfrd.ParseZones(*zonesfile)
	if err != nil {
		log.Fatalf("Error parsing zones file %q: %v", *zonesfile, err)
	}
	if err := xfrd.ValidateZones(conf, zones, *zonesfile); err != nil {
		log.Fatalf("Zones file %q is missing required attributes: %v", *zonesfile, err)
	}

	xfrd.Globals.Verbose = conf.Service.Verbose != nil && *conf.Service.Verbose
	xfrd.Globals.Debug = conf.Service.Debug != nil && *conf.Service.Debug

	reg := xfrd.Zones
	xfrd.BuildRegistry(reg, zones, xfrd.DefaultTCPPort)

	now := time.Now()
	if err := xfrd.LoadStateFile(conf.Service.StateFile, reg, now); err != nil {
		log.Printf("Error loading state file %q: %v (continuing with a cold start)", conf.Service.StateFile, err)
	}

	var ipc *xfrd.IPC
	if *ipcFdFlag >= 0 {
		f := os.NewFile(uintptr(*ipcFdFlag), "xfrd-ipc-fd-"+strconv.Itoa(*ipcFdFlag))
		ipc = xfrd.NewIPC(f)
	} else {
		log.Println("main: no -ipc-fd given, running standalone (no parent reload/shutdown signalling)")
		ipc = xfrd.NewIPC(nil)
	}

	pool := xfrd.NewTCPPool(conf.Service.MaxTCP)
	diffLog := xfrd.NewDiffLog(xfrd.DefaultStateFile + ".diff")
	defer diffLog.Close()

	notifyCh := make(chan xfrd.NotifyRequest, 16)
	go xfrd.RunNotifier(notifyCh)

	coord := xfrd.NewCoordinator(reg, pool, diffLog, ipc, notifyCh)
	coord.Bootstrap(now)

	ctx, cancel := context.WithCancel(context.Background())

	if len(conf.Apiserver.Addresses) > 0 {
		router, err := xfrd.SetupAPIRouter(conf, reg, coord.ForceRefresh)
		if err != nil {
			log.Printf("main: error setting up admin API router: %v", err)
		} else if err := xfrd.RunAPIServer(conf, router, ctx.Done()); err != nil {
			log.Printf("main: error starting admin API: %v", err)
		}
	}

	go coord.Run(ctx)

	mainloop(cancel, coord, reg)

	if err := xfrd.WriteStateFile(conf.Service.StateFile, reg, time.Now()); err != nil {
		log.Printf("main: error writing state file %q: %v", conf.Service.StateFile, err)
	}
	log.Println("main: xfrd stopped")
}
