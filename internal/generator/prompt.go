package generator

import (
	"fmt"
	"strings"
)

const baseSystemPrompt = `You are an expert web developer who creates production-ready, single-file web applications.

CRITICAL RULES:
1. Generate COMPLETE, WORKING code - no placeholders or TODOs
2. All code goes in index.html with embedded <style> and <script> tags
3. Use vanilla JavaScript - no frameworks unless explicitly requested
4. Ensure code is bug-free and handles errors gracefully
5. Make it responsive and visually appealing
6. Follow web accessibility standards
7. Include comprehensive README.md documentation
8. Always use the EXACT file format specified: ===FILE:filename=== content ===END===

CODE QUALITY STANDARDS:
- Clean, well-commented code
- Proper error handling with try-catch blocks
- User-friendly error messages
- Input validation
- Professional styling and layout
- Mobile-responsive design`

// systemPrompt returns the system message for round.
func systemPrompt(round int) string {
	if round > 1 {
		return baseSystemPrompt + fmt.Sprintf("\n\nThis is ROUND %d: Update the existing application while preserving working functionality.", round)
	}
	return baseSystemPrompt
}

func numberedChecks(checks []string) string {
	var b strings.Builder
	for i, c := range checks {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, c)
	}
	return b.String()
}

// userPrompt renders the request into the user message.
func userPrompt(req Request, attachments []decodedAttachment) string {
	checks := numberedChecks(req.Checks)

	var att strings.Builder
	if len(attachments) > 0 {
		att.WriteString("\n\nATTACHMENTS PROVIDED:\n")
		for _, a := range attachments {
			att.WriteString(a.preview())
		}
	}

	var b strings.Builder
	b.WriteString("Create a complete, working web application based on these requirements:\n\n")
	fmt.Fprintf(&b, "TASK: %s\nROUND: %d\n\n", req.TaskID, req.Round)
	fmt.Fprintf(&b, "BRIEF:\n%s\n\n", req.Brief)
	fmt.Fprintf(&b, "EVALUATION CRITERIA:\n%s\n%s\n\n", checks, att.String())
	b.WriteString(`CRITICAL REQUIREMENTS:
1. Create a SINGLE-FILE application in index.html with ALL CSS and JavaScript embedded
2. The HTML MUST be complete, valid, and ready to deploy
3. Use modern HTML5, CSS3, and vanilla JavaScript (no frameworks unless specified)
4. Ensure the app passes ALL evaluation criteria above
5. Include proper error handling and user feedback
6. Make it responsive and accessible
7. Add professional styling

RESPONSE FORMAT - Use EXACTLY this format:

===FILE:index.html===
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Your App Title</title>
    <style>
        /* All CSS styles here */
    </style>
</head>
<body>
    <!-- All HTML content here -->
    <script>
        // All JavaScript code here
    </script>
</body>
</html>
===END===

===FILE:README.md===
# Application Title

## Description
Detailed description of what this application does.

## Usage
Open index.html in a web browser or visit the GitHub Pages site.

## Evaluation Criteria Met
`)
	b.WriteString(checks)
	b.WriteString(`

## License
MIT License
===END===

IMPORTANT NOTES:
- The app MUST be fully self-contained in index.html
- Include ALL necessary code inline (CSS in <style>, JS in <script>)
- Ensure the app works immediately when opened in a browser
- Use semantic HTML and accessible markup
`)
	return b.String()
}
