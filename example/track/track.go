package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/visionpath/go-imgalign"
	"github.com/visionpath/go-imgalign/render"
	"gocv.io/x/gocv"
)

var (
	// FPS is the number of FPS to simulate
	FPS         = int64(30)
	FPSinterval = time.Duration(float64(time.Second) / float64(FPS))
)

// ResultFrame is a struct to wrap the gocv byte buffer and error result
type ResultFrame struct {
	Buf *gocv.NativeByteBuffer
	Err error
}

// Demo defines the struct for running the region tracking demo
type Demo struct {
	// vidBuffer buffers the video frames into memory
	vidBuffer []gocv.Mat
	// aligner is the inverse compositional region tracker
	aligner *imgalign.ImageAlignment
	// initBox is the bounding box tracking (re)starts from
	initBox imgalign.BoundingBox
	// trail keeps center point history for drawing
	trail *render.Trail
	// boxStyle used for drawing the tracked box
	boxStyle render.BoxStyle
	// ttf is an optional TrueType font for the overlay label
	ttf *render.TTFont
	// threshold is the Gauss-Newton convergence cutoff
	threshold float64
	// maxIters caps refinement iterations per frame
	maxIters int
}

// NewDemo returns an instance of Demo, a streaming HTTP server showing
// video with the tracked region annotated
func NewDemo(vidFile string, box imgalign.BoundingBox, threshold float64,
	maxIters int) (*Demo, error) {

	d := &Demo{
		aligner:   imgalign.NewImageAlignment(),
		initBox:   box,
		trail:     render.NewTrail(90),
		boxStyle:  render.DefaultBoxStyle(),
		threshold: threshold,
		maxIters:  maxIters,
	}

	err := d.bufferVideo(vidFile)

	if err != nil {
		return nil, fmt.Errorf("error buffering video: %w", err)
	}

	if len(d.vidBuffer) == 0 {
		return nil, fmt.Errorf("no frames read from video %s", vidFile)
	}

	log.Printf("Buffered %d video frames of %dx%d", len(d.vidBuffer),
		d.vidBuffer[0].Cols(), d.vidBuffer[0].Rows())

	return d, nil
}

// UseTTF loads a TrueType font used to render the overlay label
func (d *Demo) UseTTF(fontPath string) error {

	ttf, err := render.LoadTTFont(fontPath, 14)

	if err != nil {
		return err
	}

	d.ttf = ttf

	return nil
}

// bufferVideo reads in the video frames and saves them to a buffer
func (d *Demo) bufferVideo(vidFile string) error {

	// open handle to read frames of video file
	video, err := gocv.VideoCaptureFile(vidFile)

	if err != nil {
		return err
	}

	defer video.Close()

	d.vidBuffer = make([]gocv.Mat, 0)

	for {
		img := gocv.NewMat()

		// read the next frame from the video
		if ok := video.Read(&img); !ok {
			// reached last video frame
			break
		}

		if img.Empty() {
			continue
		}

		// push frame onto buffer
		d.vidBuffer = append(d.vidBuffer, img)
	}

	return nil
}

// restart reinitialises the tracker on the first buffered frame with
// the initial bounding box, used when the looping video wraps around
func (d *Demo) restart() error {

	gray := gocv.NewMat()
	defer gray.Close()

	gocv.CvtColor(d.vidBuffer[0], &gray, gocv.ColorBGRToGray)

	d.trail.Reset()

	return d.aligner.Init(gray, d.initBox)
}

// Stream is the HTTP handler function used to stream video frames to
// browser
func (d *Demo) Stream(w http.ResponseWriter, r *http.Request) {

	log.Printf("New client connection established\n")

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	// pointer to position in video buffer
	frameNum := -1

	// used for calculating FPS
	frameCount := 0
	startTime := time.Now()
	fps := float64(0)

	ticker := time.NewTicker(FPSinterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-r.Context().Done():
			log.Printf("Client disconnected\n")
			break loop

		// simulate reading 30FPS web camera
		case <-ticker.C:

			// increment pointer to next image in the video buffer
			frameNum++
			if frameNum > len(d.vidBuffer)-1 {
				frameNum = 0
			}

			// tracking is sequential, frame N aligns against frame N-1,
			// so frames are processed inline rather than concurrently
			if frameNum == 0 {
				if err := d.restart(); err != nil {
					log.Printf("Error restarting tracker: %v", err)
					continue
				}
			}

			buf := d.ProcessFrame(d.vidBuffer[frameNum], fps, frameNum)

			if buf.Err != nil {
				log.Printf("Error occured during ProcessFrame: %v", buf.Err)
				continue
			}

			// write the image to the response writer
			w.Write([]byte("--frame\r\n"))
			w.Write([]byte("Content-Type: image/jpeg\r\n\r\n"))
			w.Write(buf.Buf.GetBytes())
			w.Write([]byte("\r\n"))

			// flush the buffer
			flusher, ok := w.(http.Flusher)
			if ok {
				flusher.Flush()
			}

			buf.Buf.Close()

			// calculate FPS
			frameCount++
			elapsed := time.Since(startTime).Seconds()

			if elapsed >= 1.0 {
				fps = float64(frameCount) / elapsed
				frameCount = 0
				startTime = time.Now()
			}
		}
	}
}

// ProcessFrame takes an image from the video, tracks the region into
// it, annotates the image and returns the result encoded as a JPG file
func (d *Demo) ProcessFrame(img gocv.Mat, fps float64, frameNum int) ResultFrame {

	trackStart := time.Now()

	gray := gocv.NewMat()
	defer gray.Close()

	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	box, err := d.aligner.TrackWithParams(gray, d.threshold, d.maxIters)

	if err != nil {
		// losing the region on one frame is not fatal, skip the update
		// and keep streaming with the last good box
		if errors.Is(err, imgalign.ErrSingularSystem) ||
			errors.Is(err, imgalign.ErrImageMismatch) {

			log.Printf("Frame %d: tracking lost: %v", frameNum, err)
			box = d.aligner.BBox()

		} else {
			return ResultFrame{Err: err}
		}
	}

	d.trail.Add(box)

	// copy the source image and annotate the copy
	resImg := gocv.NewMat()
	defer resImg.Close()
	img.CopyTo(&resImg)

	d.AnnotateImg(resImg, box, fps, frameNum, time.Since(trackStart))

	// encode the image to JPEG format
	buf, err := gocv.IMEncode(".jpg", resImg)

	return ResultFrame{
		Buf: buf,
		Err: err,
	}
}

// AnnotateImg draws the tracked bounding box, trail, and timing
// statistics on the image
func (d *Demo) AnnotateImg(img gocv.Mat, box imgalign.BoundingBox,
	fps float64, frameNum int, trackTime time.Duration) {

	stats := d.aligner.LastStats()

	label := fmt.Sprintf("iters %d, err %.1f", stats.Iterations,
		stats.FinalError)

	render.TrackedBox(&img, box, label, d.boxStyle)
	render.TrailLine(&img, d.trail, render.DefaultTrailStyle())

	header := fmt.Sprintf("Frame: %d, FPS: %.2f, Track: %.2fms, Converged: %t",
		frameNum, fps,
		float32(trackTime)/float32(time.Millisecond), stats.Converged)

	if d.ttf != nil {
		if err := d.ttf.PutText(&img, header, 4, 18, render.Red); err != nil {
			log.Printf("Error rendering TTF overlay: %v", err)
		}

		return
	}

	gocv.PutText(&img, header, image.Pt(4, 14), gocv.FontHersheyDuplex,
		0.5, render.Red, 1)
}

// parseBBox parses a bounding box given as "top,left,bottom,right"
func parseBBox(s string) (imgalign.BoundingBox, error) {

	parts := strings.Split(s, ",")

	if len(parts) != 4 {
		return imgalign.BoundingBox{},
			fmt.Errorf("bbox needs 4 comma separated values, got %q", s)
	}

	vals := make([]float64, 4)

	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)

		if err != nil {
			return imgalign.BoundingBox{},
				fmt.Errorf("invalid bbox value %q: %w", p, err)
		}

		vals[i] = v
	}

	box := imgalign.NewBoundingBox(vals[0], vals[1], vals[2], vals[3])

	return box, box.Validate()
}

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// read in cli flags
	vidFile := flag.String("v", "../data/palace.mp4", "Video file to track the region in")
	bboxStr := flag.String("b", "200,300,400,500", "Initial bounding box as top,left,bottom,right")
	threshold := flag.Float64("t", imgalign.DefaultThreshold, "Convergence threshold on the parameter update norm")
	maxIters := flag.Int("i", imgalign.DefaultMaxIters, "Maximum Gauss-Newton iterations per frame")
	ttfFont := flag.String("f", "", "Optional TTF font to render the overlay with")
	httpAddr := flag.String("a", "localhost:8080", "HTTP Address to run server on, format address:port")

	flag.Parse()

	box, err := parseBBox(*bboxStr)

	if err != nil {
		log.Fatalf("Error parsing bounding box: %v", err)
	}

	demo, err := NewDemo(*vidFile, box, *threshold, *maxIters)

	if err != nil {
		log.Fatalf("Error creating demo: %v", err)
	}

	if *ttfFont != "" {
		if err := demo.UseTTF(*ttfFont); err != nil {
			log.Fatalf("Error loading TTF font: %v", err)
		}
	}

	http.HandleFunc("/stream", demo.Stream)

	log.Println(fmt.Sprintf("Open browser and view video at http://%s/stream",
		*httpAddr))
	log.Fatal(http.ListenAndServe(*httpAddr, nil))
}
