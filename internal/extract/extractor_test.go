package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("Hello world\nLine 2"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nLine 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("hello\x80world"), ".md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello\ufffdworld" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainBOM(t *testing.T) {
	got, _ := NewExtractor().ExtractBytes([]byte("\xef\xbb\xbfCMU"), ".txt")
	if got != "CMU" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Title\nValue 1\tValue 2" {
		t.Errorf("got %q", got)
	}
}

func testDocx(body string, contentTypes string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	bodyPath := "word/document.xml"
	if contentTypes != "" {
		ct, _ := w.Create("[Content_Types].xml")
		_, _ = ct.Write([]byte(contentTypes))
		bodyPath = "word/document2.xml"
	}
	fw, _ := w.Create(bodyPath)
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func TestExtractBytes_docxParagraphs(t *testing.T) {
	body := `<w:p w:rsidR="00A1"><w:r><w:t>Language </w:t></w:r><w:r><w:t xml:space="preserve">Technologies</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t></w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Institute</w:t></w:r></w:p>`
	got, err := NewExtractor().ExtractBytes(testDocx(body, ""), ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Language Technologies\n\nInstitute" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	ct := `<?xml version="1.0"?><Types><Override ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml" PartName="/word/document2.xml"/></Types>`
	got, err := NewExtractor().ExtractBytes(testDocx(`<w:p><w:r><w:t>moved body</w:t></w:r></w:p>`, ct), ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "moved body" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxNotZip(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("plain"), ".docx"); err == nil {
		t.Error("expected error for non-zip docx")
	}
}

func TestExtractBytes_html(t *testing.T) {
	page := `<html><head><title>LTI</title><style>p{color:red}</style></head><body>
<nav><a href="/">Home</a></nav>
<h1>Learn at the LTI</h1>
<p>The Language Technologies Institute offers
a <b>PhD</b> program.</p>
<script>var x = "ignored";</script>
<ul><li>MLT</li><li>MIIS</li></ul>
</body></html>`
	got, err := NewExtractor().ExtractBytes([]byte(page), ".html")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Home", "Learn at the LTI", "The Language Technologies Institute offers a PhD program.", "MLT", "MIIS"}
	paras := Paragraphs(got)
	if len(paras) != len(want) {
		t.Fatalf("paragraphs = %q, want %q", paras, want)
	}
	for i := range want {
		if paras[i] != want[i] {
			t.Errorf("paragraph %d = %q, want %q", i, paras[i], want[i])
		}
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestSupported(t *testing.T) {
	e := NewExtractor()
	for path, want := range map[string]bool{
		"a.PDF": true, "b.docx": true, "c.txt": true, "f.html": true, "d.go": false, "e": false,
	} {
		if got := e.Supported(path); got != want {
			t.Errorf("Supported(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestParagraphs(t *testing.T) {
	got := Paragraphs("First  line\r\ncontinues\n\n\n  Second\t para \n   \nThird")
	want := []string{"First line continues", "Second para", "Third"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paragraph %d = %q, want %q", i, got[i], want[i])
		}
	}
	if Paragraphs("  \n\n ") != nil {
		t.Error("blank text should have no paragraphs")
	}
}

func TestReadTable_csv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "courses.csv")
	data := "\xef\xbb\xbfCourse Number,Title,Instructor\n11711,Advanced NLP,Graham Neubig\n,,\n10601,Intro ML\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	tbl, err := ReadTable(path)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(tbl.Columns) != 3 || tbl.Columns[0] != "Course Number" {
		t.Errorf("Columns = %q", tbl.Columns)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(tbl.Rows))
	}
	if tbl.Rows[1][2] != "" || len(tbl.Rows[1]) != 3 {
		t.Errorf("short row should be padded, got %q", tbl.Rows[1])
	}
}

func TestReadTable_xlsx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faculty.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Name")
	f.SetCellValue("Sheet1", "B1", "Research Area")
	f.SetCellValue("Sheet1", "A2", "Eric Nyberg")
	f.SetCellValue("Sheet1", "B2", "Question Answering")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()
	tbl, err := ReadTable(path)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(tbl.Rows) != 1 || tbl.Rows[0][1] != "Question Answering" {
		t.Errorf("got %+v", tbl)
	}
}

func TestReadTable_unsupported(t *testing.T) {
	if _, err := ReadTableBytes([]byte("x"), ".json"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
